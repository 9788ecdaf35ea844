package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lysyi3m/inapp-sync/app/remotedata"
)

const defaultLimit = 1

type messageHeader struct {
	MessageID string    `json:"message_id"`
	Audience  *Audience `json:"audience"`
}

type scheduleBody struct {
	Message  json.RawMessage `json:"message"`
	Start    *string         `json:"start"`
	End      *string         `json:"end"`
	Priority *int            `json:"priority"`
	Limit    *int            `json:"limit"`
	Triggers []Trigger       `json:"triggers"`
}

// ParseMessageID returns the message id of a remote message entry, or "" if
// the entry has none.
func ParseMessageID(entry json.RawMessage) string {
	var body struct {
		Message messageHeader `json:"message"`
	}
	if err := json.Unmarshal(entry, &body); err != nil {
		return ""
	}
	return body.Message.MessageID
}

// ParseAudience returns the audience embedded in a message document.
func ParseAudience(msg json.RawMessage) (*Audience, error) {
	if isNull(msg) {
		return nil, nil
	}
	var header messageHeader
	if err := json.Unmarshal(msg, &header); err != nil {
		return nil, fmt.Errorf("%w: message: %v", ErrInvalidSchedule, err)
	}
	return header.Audience, nil
}

// ParseScheduleInfo converts a remote message entry into schedule info.
func ParseScheduleInfo(entry json.RawMessage) (ScheduleInfo, error) {
	var body scheduleBody
	if err := json.Unmarshal(entry, &body); err != nil {
		return ScheduleInfo{}, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	if isNull(body.Message) {
		return ScheduleInfo{}, fmt.Errorf("%w: missing message", ErrInvalidSchedule)
	}

	var header messageHeader
	if err := json.Unmarshal(body.Message, &header); err != nil {
		return ScheduleInfo{}, fmt.Errorf("%w: message: %v", ErrInvalidSchedule, err)
	}
	if header.MessageID == "" {
		return ScheduleInfo{}, fmt.Errorf("%w: missing message_id", ErrInvalidSchedule)
	}
	if err := header.Audience.Validate(); err != nil {
		return ScheduleInfo{}, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}

	info := ScheduleInfo{
		MessageID: header.MessageID,
		Message:   body.Message,
		Audience:  header.Audience,
		Limit:     defaultLimit,
		Triggers:  body.Triggers,
	}
	if body.Priority != nil {
		info.Priority = *body.Priority
	}
	if body.Limit != nil {
		info.Limit = *body.Limit
	}

	var err error
	if info.Start, err = parseBound("start", body.Start); err != nil {
		return ScheduleInfo{}, err
	}
	if info.End, err = parseBound("end", body.End); err != nil {
		return ScheduleInfo{}, err
	}

	if err := info.Validate(); err != nil {
		return ScheduleInfo{}, err
	}
	return info, nil
}

// Validate checks the invariants a scheduler enforces on new schedules.
func (i ScheduleInfo) Validate() error {
	if i.MessageID == "" {
		return fmt.Errorf("%w: missing message_id", ErrInvalidSchedule)
	}
	if i.Limit < 0 {
		return fmt.Errorf("%w: negative limit %d", ErrInvalidSchedule, i.Limit)
	}
	if i.Start != nil && i.End != nil && i.Start.After(*i.End) {
		return fmt.Errorf("%w: start %s after end %s", ErrInvalidSchedule, i.Start.Format(time.RFC3339), i.End.Format(time.RFC3339))
	}
	for _, trigger := range i.Triggers {
		if trigger.Type == "" {
			return fmt.Errorf("%w: trigger without type", ErrInvalidSchedule)
		}
		if trigger.Goal <= 0 {
			return fmt.Errorf("%w: trigger %s has non-positive goal", ErrInvalidSchedule, trigger.Type)
		}
	}
	return nil
}

// ParseEdits converts a remote message entry into schedule edits. An absent
// bound is left as TimeKeep, an explicit null becomes TimeClear.
func ParseEdits(entry json.RawMessage) (Edits, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(entry, &fields); err != nil {
		return Edits{}, fmt.Errorf("%w: %v", ErrInvalidEdits, err)
	}

	var edits Edits
	if raw, ok := fields["message"]; ok && !isNull(raw) {
		edits.Message = raw
	}

	var err error
	if edits.Start, err = parseTimeEdit("start", fields); err != nil {
		return Edits{}, err
	}
	if edits.End, err = parseTimeEdit("end", fields); err != nil {
		return Edits{}, err
	}

	if raw, ok := fields["priority"]; ok && !isNull(raw) {
		var priority int
		if err := json.Unmarshal(raw, &priority); err != nil {
			return Edits{}, fmt.Errorf("%w: priority: %v", ErrInvalidEdits, err)
		}
		edits.Priority = &priority
	}
	if raw, ok := fields["limit"]; ok && !isNull(raw) {
		var limit int
		if err := json.Unmarshal(raw, &limit); err != nil {
			return Edits{}, fmt.Errorf("%w: limit: %v", ErrInvalidEdits, err)
		}
		if limit < 0 {
			return Edits{}, fmt.Errorf("%w: negative limit %d", ErrInvalidEdits, limit)
		}
		edits.Limit = &limit
	}

	if edits.Start.Op == TimeSet && edits.End.Op == TimeSet && edits.Start.At.After(edits.End.At) {
		return Edits{}, fmt.Errorf("%w: start after end", ErrInvalidEdits)
	}
	return edits, nil
}

func parseBound(name string, value *string) (*time.Time, error) {
	if value == nil {
		return nil, nil
	}
	t, err := remotedata.ParseTime(*value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSchedule, name, err)
	}
	return &t, nil
}

func parseTimeEdit(name string, fields map[string]json.RawMessage) (TimeEdit, error) {
	raw, ok := fields[name]
	if !ok {
		return TimeEdit{}, nil
	}
	if isNull(raw) {
		return ClearTime(), nil
	}

	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return TimeEdit{}, fmt.Errorf("%w: %s: %v", ErrInvalidEdits, name, err)
	}
	t, err := remotedata.ParseTime(value)
	if err != nil {
		return TimeEdit{}, fmt.Errorf("%w: %s: %v", ErrInvalidEdits, name, err)
	}
	return SetTime(t), nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
