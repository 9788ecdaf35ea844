package inapp

import (
	"context"

	"github.com/lysyi3m/inapp-sync/app/message"
	"github.com/lysyi3m/inapp-sync/app/remotedata"
)

// Store is durable key/value persistence. Writes are durable once the call
// returns.
type Store interface {
	GetLong(key string, def int64) (int64, error)
	PutLong(key string, value int64) error
	GetJSON(key string, v any) (bool, error)
	// PutBatch writes all values atomically.
	PutBatch(values map[string]any) error
}

// Scheduler owns the scheduled messages. It has no upsert and no delete by
// message id: callers find, create, and edit.
type Scheduler interface {
	GetSchedules(ctx context.Context, messageID string) ([]message.Schedule, error)
	Schedule(ctx context.Context, infos []message.ScheduleInfo, metadata map[string]string) ([]message.Schedule, error)
	// EditSchedule returns nil without error when scheduleID is unknown.
	EditSchedule(ctx context.Context, scheduleID string, edits message.Edits) (*message.Schedule, error)
}

type AudiencePredicate interface {
	CheckForScheduling(audience *message.Audience, isNewUser bool) bool
}

// Feed delivers payloads of one type in order until ctx is done, then closes
// the channel.
type Feed interface {
	PayloadsForType(ctx context.Context, payloadType string) <-chan remotedata.Payload
}

// Listener is called after every successful reconciliation pass, on the
// observer's worker goroutine. A listener may call Subscribe or Cancel.
type Listener interface {
	OnReconciled()
}
