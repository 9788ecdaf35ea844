package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/lysyi3m/inapp-sync/app/database"
	"github.com/lysyi3m/inapp-sync/app/inapp"
	"github.com/lysyi3m/inapp-sync/app/message"
	"github.com/lysyi3m/inapp-sync/app/remotedata"
	"github.com/lysyi3m/inapp-sync/app/tasks"
)

type ScheduleStore interface {
	ListSchedules(ctx context.Context) ([]message.Schedule, error)
	GetSchedule(ctx context.Context, id string) (*message.Schedule, error)
	CountSchedules(ctx context.Context) (int, error)
}

// SyncState exposes the reconciliation bookkeeping.
type SyncState interface {
	LastPayloadTimestamp() (int64, error)
	LastPayloadMetadata() (remotedata.Metadata, error)
	ScheduledMessages() (map[string]string, error)
	ScheduleNewUserCutoffTime() (int64, error)
	SetScheduleNewUserCutoffTime(ms int64) error
}

// RemoteData exposes the retained remote-data payloads.
type RemoteData interface {
	Payload(payloadType string) (remotedata.Payload, bool)
	SubscriberCount() int
}

var (
	_ ScheduleStore  = (*database.ScheduleRepository)(nil)
	_ SyncState      = (*inapp.Observer)(nil)
	_ RemoteData     = (*remotedata.Feed)(nil)
	_ inapp.Listener = (*Handler)(nil)
)

type Handler struct {
	schedules ScheduleStore
	state     SyncState
	remote    RemoteData
	scheduler tasks.TaskSchedulerInterface
	now       func() time.Time

	mu             sync.RWMutex
	lastReconciled *time.Time
}

type scheduleResponse struct {
	ID        string            `json:"id"`
	MessageID string            `json:"message_id"`
	Active    bool              `json:"active"`
	Start     *time.Time        `json:"start,omitempty"`
	End       *time.Time        `json:"end,omitempty"`
	Priority  int               `json:"priority"`
	Limit     int               `json:"limit"`
	Triggers  []message.Trigger `json:"triggers"`
	Audience  *message.Audience `json:"audience,omitempty"`
	Message   json.RawMessage   `json:"message,omitempty"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

type newUserCutoffRequest struct {
	Time *time.Time `json:"time" binding:"required"`
}
