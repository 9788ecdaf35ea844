package inapp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lysyi3m/inapp-sync/app/message"
	"github.com/lysyi3m/inapp-sync/app/remotedata"
)

type memStore struct {
	mu         sync.Mutex
	values     map[string][]byte
	batchErr   error
	batches    int
	timestamps []int64
}

func newMemStore() *memStore {
	return &memStore{values: make(map[string][]byte)}
}

func (s *memStore) GetLong(key string, def int64) (int64, error) {
	var v int64
	ok, err := s.GetJSON(key, &v)
	if err != nil || !ok {
		return def, err
	}
	return v, nil
}

func (s *memStore) PutLong(key string, value int64) error {
	return s.PutBatch(map[string]any{key: value})
}

func (s *memStore) GetJSON(key string, v any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.values[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, v)
}

func (s *memStore) PutBatch(values map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batchErr != nil {
		return s.batchErr
	}
	encoded := make(map[string][]byte, len(values))
	for k, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		encoded[k] = data
	}
	for k, data := range encoded {
		s.values[k] = data
	}
	if ts, ok := values[lastPayloadTimestampKey].(int64); ok {
		s.timestamps = append(s.timestamps, ts)
	}
	s.batches++
	return nil
}

type editCall struct {
	scheduleID string
	edits      message.Edits
}

type fakeScheduler struct {
	mu        sync.Mutex
	schedules map[string]*message.Schedule
	nextID    int

	lookups     []string
	creates     [][]message.ScheduleInfo
	createMD    []map[string]string
	edits       []editCall
	scheduleErr error
	editErr     error
	editErrFor  map[string]error
	lookupErr   error

	// block, when set, is received from before each create returns.
	block chan struct{}
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{schedules: make(map[string]*message.Schedule)}
}

func (f *fakeScheduler) add(messageID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("schedule-%d", f.nextID)
	f.schedules[id] = &message.Schedule{ID: id, Info: message.ScheduleInfo{MessageID: messageID}}
	return id
}

func (f *fakeScheduler) GetSchedules(ctx context.Context, messageID string) ([]message.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups = append(f.lookups, messageID)
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	var result []message.Schedule
	for _, s := range f.schedules {
		if s.Info.MessageID == messageID {
			result = append(result, *s)
		}
	}
	return result, nil
}

func (f *fakeScheduler) Schedule(ctx context.Context, infos []message.ScheduleInfo, metadata map[string]string) ([]message.Schedule, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, infos)
	f.createMD = append(f.createMD, metadata)
	if f.scheduleErr != nil {
		return nil, f.scheduleErr
	}
	var created []message.Schedule
	for _, info := range infos {
		f.nextID++
		s := &message.Schedule{ID: fmt.Sprintf("schedule-%d", f.nextID), Info: info, Metadata: metadata}
		f.schedules[s.ID] = s
		created = append(created, *s)
	}
	return created, nil
}

func (f *fakeScheduler) EditSchedule(ctx context.Context, scheduleID string, edits message.Edits) (*message.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, editCall{scheduleID: scheduleID, edits: edits})
	if f.editErr != nil {
		return nil, f.editErr
	}
	if err := f.editErrFor[scheduleID]; err != nil {
		return nil, err
	}
	s, ok := f.schedules[scheduleID]
	if !ok {
		return nil, nil
	}
	s.Metadata = edits.Metadata
	return s, nil
}

func (f *fakeScheduler) calls() (lookups, creates, edits int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lookups), len(f.creates), len(f.edits)
}

type audienceCall struct {
	audience  *message.Audience
	isNewUser bool
}

// fakeAudience applies the new_user rule only.
type fakeAudience struct {
	mu    sync.Mutex
	calls []audienceCall
}

func (a *fakeAudience) CheckForScheduling(audience *message.Audience, isNewUser bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, audienceCall{audience: audience, isNewUser: isNewUser})
	if audience == nil || audience.NewUser == nil {
		return true
	}
	return *audience.NewUser == isNewUser
}

type chanFeed struct {
	ch chan remotedata.Payload
}

func newChanFeed() *chanFeed {
	return &chanFeed{ch: make(chan remotedata.Payload, 16)}
}

func (f *chanFeed) PayloadsForType(ctx context.Context, payloadType string) <-chan remotedata.Payload {
	return f.ch
}

type countingListener struct {
	mu     sync.Mutex
	count  int
	notify chan struct{}
}

func newCountingListener() *countingListener {
	return &countingListener{notify: make(chan struct{}, 16)}
}

func (l *countingListener) OnReconciled() {
	l.mu.Lock()
	l.count++
	l.mu.Unlock()
	l.notify <- struct{}{}
}

func (l *countingListener) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

func iso(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000")
}

type item struct {
	id        string
	createdAt int64
	updatedAt int64
	audience  string
	extra     string
}

func (i item) json() string {
	msg := `"message_id":"` + i.id + `"`
	if i.audience != "" {
		msg += `,"audience":` + i.audience
	}
	entry := fmt.Sprintf(`{"created":%q,"last_updated":%q,"message":{%s}`, iso(i.createdAt), iso(i.updatedAt), msg)
	if i.extra != "" {
		entry += "," + i.extra
	}
	return entry + "}"
}

func payload(timestamp int64, metadata remotedata.Metadata, items ...item) remotedata.Payload {
	entries := make([]string, len(items))
	for i, it := range items {
		entries[i] = it.json()
	}
	return remotedata.Payload{
		Type:      PayloadType,
		Timestamp: timestamp,
		Metadata:  metadata,
		Data:      json.RawMessage(`{"in_app_messages":[` + strings.Join(entries, ",") + `]}`),
	}
}
