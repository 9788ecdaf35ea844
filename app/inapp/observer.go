package inapp

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/lysyi3m/inapp-sync/app/remotedata"
)

const (
	PayloadType = "in_app_messages"

	lastPayloadTimestampKey = "com.urbanairship.iam.data.LAST_PAYLOAD_TIMESTAMP"
	lastPayloadMetadataKey  = "com.urbanairship.iam.data.LAST_PAYLOAD_METADATA"
	scheduledMessagesKey    = "com.urbanairship.iam.data.SCHEDULED_MESSAGES"
	newUserCutoffTimeKey    = "com.urbanairship.iam.data.NEW_USER_TIME"
)

// Observer keeps the scheduled in-app messages in sync with the
// in_app_messages remote data payload.
//
// Payloads are applied one at a time by a single worker goroutine, in the
// order the feed delivers them. The identity map (message id to schedule id)
// and the cursor (timestamp and metadata of the last applied payload) are
// only written by that worker, at the end of a successful pass.
type Observer struct {
	store    Store
	audience AudiencePredicate

	subscribeMu sync.Mutex
	mu          sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}

	listenersMu sync.Mutex
	listeners   []Listener
	notifying   atomic.Bool
}

func NewObserver(store Store, audience AudiencePredicate) *Observer {
	return &Observer{
		store:    store,
		audience: audience,
	}
}

// Subscribe cancels any previous subscription, waits for its worker to finish
// the pass in flight, and starts consuming payloads from feed.
func (o *Observer) Subscribe(ctx context.Context, feed Feed, scheduler Scheduler) {
	o.subscribeMu.Lock()
	defer o.subscribeMu.Unlock()

	o.Cancel()
	// A listener may re-subscribe from OnReconciled. Its pass is already
	// persisted, and the old worker exits once notification returns.
	if !o.notifying.Load() {
		o.Wait()
	}

	subCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	o.mu.Lock()
	o.cancel = cancel
	o.done = done
	o.mu.Unlock()

	payloads := feed.PayloadsForType(subCtx, PayloadType)
	go o.run(subCtx, payloads, scheduler, done)
}

// Cancel detaches from the feed. A pass already running completes. Listeners
// are kept.
func (o *Observer) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
}

// Wait blocks until the current worker, if any, has exited.
func (o *Observer) Wait() {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (o *Observer) AddListener(l Listener) {
	o.listenersMu.Lock()
	defer o.listenersMu.Unlock()
	o.listeners = append(o.listeners, l)
}

func (o *Observer) RemoveListener(l Listener) {
	o.listenersMu.Lock()
	defer o.listenersMu.Unlock()
	if i := slices.Index(o.listeners, l); i >= 0 {
		o.listeners = slices.Delete(o.listeners, i, i+1)
	}
}

// ScheduleNewUserCutoffTime returns the new user cutoff in milliseconds, or
// -1 when it was never set.
func (o *Observer) ScheduleNewUserCutoffTime() (int64, error) {
	return o.store.GetLong(newUserCutoffTimeKey, -1)
}

// SetScheduleNewUserCutoffTime sets the cutoff. Messages created at or before
// it are scheduled as for a new user.
func (o *Observer) SetScheduleNewUserCutoffTime(ms int64) error {
	if err := o.store.PutLong(newUserCutoffTimeKey, ms); err != nil {
		return fmt.Errorf("failed to store new user cutoff: %w", err)
	}
	return nil
}

func (o *Observer) LastPayloadTimestamp() (int64, error) {
	return o.store.GetLong(lastPayloadTimestampKey, -1)
}

func (o *Observer) LastPayloadMetadata() (remotedata.Metadata, error) {
	var metadata remotedata.Metadata
	if _, err := o.store.GetJSON(lastPayloadMetadataKey, &metadata); err != nil {
		return nil, err
	}
	if metadata == nil {
		metadata = remotedata.Metadata{}
	}
	return metadata, nil
}

// ScheduledMessages returns the identity map.
func (o *Observer) ScheduledMessages() (map[string]string, error) {
	ids := make(map[string]string)
	if _, err := o.store.GetJSON(scheduledMessagesKey, &ids); err != nil {
		return nil, err
	}
	if ids == nil {
		ids = make(map[string]string)
	}
	return ids, nil
}

func (o *Observer) run(ctx context.Context, payloads <-chan remotedata.Payload, scheduler Scheduler, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-payloads:
			if !ok || ctx.Err() != nil {
				return
			}
			o.handlePayload(ctx, payload, scheduler)
		}
	}
}

func (o *Observer) handlePayload(ctx context.Context, payload remotedata.Payload, scheduler Scheduler) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic while applying in-app message payload", "timestamp", payload.Timestamp, "panic", r)
		}
	}()

	redundant, err := o.isRedundant(payload)
	if err != nil {
		slog.Error("Failed to read in-app message cursor", "error", err)
		return
	}
	if redundant {
		slog.Debug("Skipping already applied in-app message payload", "timestamp", payload.Timestamp)
		return
	}

	// A pass is never interrupted by Cancel.
	if err := o.reconcile(context.WithoutCancel(ctx), payload, scheduler); err != nil {
		slog.Error("Failed to apply in-app message payload", "timestamp", payload.Timestamp, "error", err)
		return
	}

	o.notifyListeners()
}

func (o *Observer) isRedundant(payload remotedata.Payload) (bool, error) {
	lastTimestamp, err := o.LastPayloadTimestamp()
	if err != nil {
		return false, err
	}
	if payload.Timestamp != lastTimestamp {
		return false, nil
	}

	lastMetadata, err := o.LastPayloadMetadata()
	if err != nil {
		return false, err
	}
	return payload.Metadata.Equal(lastMetadata), nil
}

func (o *Observer) notifyListeners() {
	o.listenersMu.Lock()
	listeners := slices.Clone(o.listeners)
	o.listenersMu.Unlock()

	o.notifying.Store(true)
	defer o.notifying.Store(false)

	for _, l := range listeners {
		l.OnReconciled()
	}
}
