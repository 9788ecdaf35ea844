package message

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrInvalidSchedule = errors.New("invalid schedule")
	ErrInvalidEdits    = errors.New("invalid schedule edits")
)

// TimeEditOp selects how an edit treats a schedule time bound.
type TimeEditOp int

const (
	// TimeKeep leaves the stored bound unchanged. It is the zero value, so an
	// edit that never mentions a bound keeps it.
	TimeKeep TimeEditOp = iota
	// TimeClear removes the bound (no start / no end).
	TimeClear
	// TimeSet sets the bound to TimeEdit.At.
	TimeSet
	// TimeElapsed marks the end bound as already passed, which ends the
	// schedule. Only valid for the end bound.
	TimeElapsed
)

func (op TimeEditOp) String() string {
	switch op {
	case TimeKeep:
		return "keep"
	case TimeClear:
		return "clear"
	case TimeSet:
		return "set"
	case TimeElapsed:
		return "elapsed"
	default:
		return "unknown"
	}
}

// TimeEdit is a tagged edit of a start or end bound.
type TimeEdit struct {
	Op TimeEditOp
	At time.Time
}

func ClearTime() TimeEdit {
	return TimeEdit{Op: TimeClear}
}

func SetTime(t time.Time) TimeEdit {
	return TimeEdit{Op: TimeSet, At: t.UTC()}
}

func ElapsedTime() TimeEdit {
	return TimeEdit{Op: TimeElapsed}
}

func (e TimeEdit) String() string {
	if e.Op == TimeSet {
		return e.At.Format(time.RFC3339)
	}
	return e.Op.String()
}

// Trigger is an event goal that displays a scheduled message.
type Trigger struct {
	Type      string          `json:"type"`
	Goal      float64         `json:"goal"`
	Predicate json.RawMessage `json:"predicate,omitempty"`
}

// ScheduleInfo is everything needed to create a schedule.
type ScheduleInfo struct {
	MessageID string
	Message   json.RawMessage
	Audience  *Audience
	Start     *time.Time
	End       *time.Time
	Priority  int
	Limit     int
	Triggers  []Trigger
}

// Edits is a partial update of an existing schedule. Nil pointers, nil
// message and TimeKeep bounds leave the stored values untouched.
type Edits struct {
	Message  json.RawMessage
	Start    TimeEdit
	End      TimeEdit
	Priority *int
	Limit    *int
	Metadata map[string]string
}

// Schedule is a stored schedule.
type Schedule struct {
	ID        string
	Info      ScheduleInfo
	Metadata  map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsActive reports whether now falls inside the schedule window.
func (s Schedule) IsActive(now time.Time) bool {
	if s.Info.Start != nil && now.Before(*s.Info.Start) {
		return false
	}
	if s.Info.End != nil && !now.Before(*s.Info.End) {
		return false
	}
	return true
}

// Audience restricts which devices a message is scheduled on.
type Audience struct {
	NewUser           *bool        `json:"new_user,omitempty" yaml:"new_user,omitempty"`
	NotificationOptIn *bool        `json:"notification_opt_in,omitempty" yaml:"notification_opt_in,omitempty"`
	LocationOptIn     *bool        `json:"location_opt_in,omitempty" yaml:"location_opt_in,omitempty"`
	Locales           []string     `json:"locale,omitempty" yaml:"locale,omitempty"`
	Tags              *TagSelector `json:"tags,omitempty" yaml:"tags,omitempty"`
	TestDevices       []string     `json:"test_devices,omitempty" yaml:"test_devices,omitempty"`
	MissBehavior      string       `json:"miss_behavior,omitempty" yaml:"miss_behavior,omitempty"`
}

// TagSelector is a boolean expression over device tags. Exactly one of its
// fields is set.
type TagSelector struct {
	Tag string        `json:"tag,omitempty" yaml:"tag,omitempty"`
	And []TagSelector `json:"and,omitempty" yaml:"and,omitempty"`
	Or  []TagSelector `json:"or,omitempty" yaml:"or,omitempty"`
	Not *TagSelector  `json:"not,omitempty" yaml:"not,omitempty"`
}
