package inapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/lysyi3m/inapp-sync/app/message"
	"github.com/lysyi3m/inapp-sync/app/remotedata"
)

type payloadData struct {
	Messages []json.RawMessage `json:"in_app_messages"`
}

type messageTimestamps struct {
	Created     string `json:"created"`
	LastUpdated string `json:"last_updated"`
}

// remoteItem is one valid entry of the payload.
type remoteItem struct {
	id        string
	createdAt int64
	updatedAt int64
	raw       json.RawMessage
}

// cursor identifies the last payload that was fully applied.
type cursor struct {
	timestamp int64
	metadata  remotedata.Metadata
}

// reconcile applies one payload. Scheduler and store failures abort the pass
// before anything is persisted, so the payload is applied again on its next
// delivery.
func (o *Observer) reconcile(ctx context.Context, payload remotedata.Payload, scheduler Scheduler) error {
	last, err := o.loadCursor()
	if err != nil {
		return err
	}
	ids, err := o.ScheduledMessages()
	if err != nil {
		return fmt.Errorf("failed to read scheduled messages: %w", err)
	}
	cutoff, err := o.ScheduleNewUserCutoffTime()
	if err != nil {
		return fmt.Errorf("failed to read new user cutoff: %w", err)
	}

	var data payloadData
	if len(payload.Data) > 0 {
		if err := json.Unmarshal(payload.Data, &data); err != nil {
			return fmt.Errorf("invalid payload data: %w", err)
		}
	}

	metadataUnchanged := payload.Metadata.Equal(last.metadata)
	seen := make(map[string]struct{}, len(data.Messages))
	var pending []message.ScheduleInfo

	for i, raw := range data.Messages {
		item, ok := parseItem(i, raw)
		if !ok {
			continue
		}
		seen[item.id] = struct{}{}

		if metadataUnchanged && item.updatedAt <= last.timestamp {
			continue
		}

		scheduleID, exists := ids[item.id]
		if !exists {
			schedules, err := scheduler.GetSchedules(ctx, item.id)
			if err != nil {
				return fmt.Errorf("failed to look up schedules for message %s: %w", item.id, err)
			}
			if len(schedules) > 1 {
				slog.Warn("Skipping in-app message with duplicate schedules", "message_id", item.id, "count", len(schedules), "reason", "duplicate_schedules")
				continue
			}
			if len(schedules) == 1 {
				scheduleID, exists = schedules[0].ID, true
				ids[item.id] = scheduleID
			}
		}

		switch {
		case item.createdAt > last.timestamp && !exists:
			info, err := message.ParseScheduleInfo(item.raw)
			if err != nil {
				slog.Warn("Skipping invalid in-app message", "message_id", item.id, "error", err)
				continue
			}
			if !o.checkEligibility(info, item.createdAt, cutoff) {
				slog.Debug("In-app message not eligible for scheduling", "message_id", item.id)
				continue
			}
			pending = append(pending, info)

		case exists:
			edits, err := message.ParseEdits(item.raw)
			if err != nil {
				slog.Warn("Skipping invalid in-app message edits", "message_id", item.id, "error", err)
				continue
			}
			edits.Metadata = payload.Metadata
			// An update always states the end; keep would leave a cancelled
			// window in place.
			if edits.End.Op == message.TimeKeep {
				edits.End = message.ClearTime()
			}

			updated, err := scheduler.EditSchedule(ctx, scheduleID, edits)
			if errors.Is(err, message.ErrInvalidEdits) {
				slog.Warn("Skipping in-app message edits rejected by scheduler", "message_id", item.id, "schedule_id", scheduleID, "error", err)
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to update schedule %s for message %s: %w", scheduleID, item.id, err)
			}
			if updated == nil {
				slog.Debug("Schedule no longer exists", "message_id", item.id, "schedule_id", scheduleID)
				delete(ids, item.id)
			}
		}
	}

	if len(pending) > 0 {
		created, err := scheduler.Schedule(ctx, pending, payload.Metadata)
		if err != nil {
			return fmt.Errorf("failed to schedule %d in-app messages: %w", len(pending), err)
		}
		for _, s := range created {
			ids[s.Info.MessageID] = s.ID
		}
		slog.Info("Scheduled in-app messages", "count", len(created))
	}

	o.cancelRemoved(ctx, scheduler, ids, seen, payload.Metadata)

	metadata := payload.Metadata
	if metadata == nil {
		metadata = remotedata.Metadata{}
	}
	if err := o.store.PutBatch(map[string]any{
		scheduledMessagesKey:    ids,
		lastPayloadTimestampKey: payload.Timestamp,
		lastPayloadMetadataKey:  metadata,
	}); err != nil {
		return fmt.Errorf("failed to store in-app message state: %w", err)
	}

	return nil
}

// cancelRemoved ends the schedules of messages that left the payload and
// forgets them. A failed cancellation is not retried.
func (o *Observer) cancelRemoved(ctx context.Context, scheduler Scheduler, ids map[string]string, seen map[string]struct{}, metadata remotedata.Metadata) {
	for _, id := range slices.Sorted(maps.Keys(ids)) {
		if _, ok := seen[id]; ok {
			continue
		}

		scheduleID := ids[id]
		delete(ids, id)

		edits := message.Edits{
			Start:    message.ClearTime(),
			End:      message.ElapsedTime(),
			Metadata: metadata,
		}
		if _, err := scheduler.EditSchedule(ctx, scheduleID, edits); err != nil {
			slog.Warn("Failed to cancel removed in-app message", "message_id", id, "schedule_id", scheduleID, "error", err)
			continue
		}
		slog.Info("Cancelled removed in-app message", "message_id", id, "schedule_id", scheduleID)
	}
}

// checkEligibility evaluates the audience on every pass; device state may
// change between passes.
func (o *Observer) checkEligibility(info message.ScheduleInfo, createdAt, cutoff int64) bool {
	allowNewUser := createdAt <= cutoff
	return o.audience.CheckForScheduling(info.Audience, allowNewUser)
}

func (o *Observer) loadCursor() (cursor, error) {
	timestamp, err := o.LastPayloadTimestamp()
	if err != nil {
		return cursor{}, fmt.Errorf("failed to read last payload timestamp: %w", err)
	}
	metadata, err := o.LastPayloadMetadata()
	if err != nil {
		return cursor{}, fmt.Errorf("failed to read last payload metadata: %w", err)
	}
	return cursor{timestamp: timestamp, metadata: metadata}, nil
}

func parseItem(index int, raw json.RawMessage) (remoteItem, bool) {
	id := message.ParseMessageID(raw)
	if id == "" {
		slog.Warn("Skipping in-app message without id", "index", index)
		return remoteItem{}, false
	}

	var ts messageTimestamps
	if err := json.Unmarshal(raw, &ts); err != nil {
		slog.Warn("Skipping malformed in-app message", "message_id", id, "error", err)
		return remoteItem{}, false
	}
	createdAt, err := remotedata.ParseMillis(ts.Created)
	if err != nil {
		slog.Warn("Skipping in-app message with invalid created time", "message_id", id, "error", err)
		return remoteItem{}, false
	}
	updatedAt, err := remotedata.ParseMillis(ts.LastUpdated)
	if err != nil {
		slog.Warn("Skipping in-app message with invalid last_updated time", "message_id", id, "error", err)
		return remoteItem{}, false
	}
	if createdAt > updatedAt {
		slog.Warn("Skipping in-app message updated before it was created", "message_id", id)
		return remoteItem{}, false
	}

	return remoteItem{id: id, createdAt: createdAt, updatedAt: updatedAt, raw: raw}, true
}
