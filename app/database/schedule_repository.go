package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lysyi3m/inapp-sync/app/message"
)

const scheduleColumns = `id, message_id, message, start_at, end_at, priority, limit_count,
	triggers, metadata, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ScheduleRepository stores in-app message schedules.
type ScheduleRepository struct {
	db  *DB
	now func() time.Time
}

func NewScheduleRepository(db *DB) *ScheduleRepository {
	return &ScheduleRepository{db: db, now: time.Now}
}

// GetSchedules returns every schedule created for messageID, oldest first.
func (r *ScheduleRepository) GetSchedules(ctx context.Context, messageID string) ([]message.Schedule, error) {
	return r.query(ctx, r.db, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE message_id = ?
		ORDER BY created_at, id
	`, messageID)
}

// ListSchedules returns all schedules, oldest first.
func (r *ScheduleRepository) ListSchedules(ctx context.Context) ([]message.Schedule, error) {
	return r.query(ctx, r.db, `
		SELECT `+scheduleColumns+`
		FROM schedules
		ORDER BY created_at, id
	`)
}

// GetSchedule returns ErrNotFound when id is unknown.
func (r *ScheduleRepository) GetSchedule(ctx context.Context, id string) (*message.Schedule, error) {
	return r.get(ctx, r.db, id)
}

func (r *ScheduleRepository) CountSchedules(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schedules`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count schedules: %w", err)
	}
	return count, nil
}

// Schedule creates one schedule per info in a single transaction. Either all
// schedules are created or none.
func (r *ScheduleRepository) Schedule(ctx context.Context, infos []message.ScheduleInfo, metadata map[string]string) ([]message.Schedule, error) {
	if len(infos) == 0 {
		return nil, nil
	}
	for _, info := range infos {
		if err := info.Validate(); err != nil {
			return nil, err
		}
	}

	metadataJSON, err := json.Marshal(nonNilMetadata(metadata))
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := fromMillis(toMillis(r.now()))
	schedules := make([]message.Schedule, 0, len(infos))
	for _, info := range infos {
		triggersJSON, err := json.Marshal(nonNilTriggers(info.Triggers))
		if err != nil {
			return nil, fmt.Errorf("failed to encode triggers: %w", err)
		}

		s := message.Schedule{
			ID:        uuid.NewString(),
			Info:      info,
			Metadata:  nonNilMetadata(metadata),
			CreatedAt: now,
			UpdatedAt: now,
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO schedules (
				id, message_id, message, start_at, end_at, priority, limit_count,
				triggers, metadata, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, s.ID, info.MessageID, string(info.Message), nullMillis(info.Start), nullMillis(info.End),
			info.Priority, info.Limit, string(triggersJSON), string(metadataJSON),
			toMillis(now), toMillis(now))
		if err != nil {
			return nil, fmt.Errorf("failed to insert schedule for message %s: %w", info.MessageID, err)
		}

		schedules = append(schedules, s)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit schedules: %w", err)
	}
	return schedules, nil
}

// EditSchedule applies edits to the schedule with the given id. It returns nil
// without error when the schedule does not exist. Applying the same edits
// twice leaves the schedule unchanged apart from updated_at.
func (r *ScheduleRepository) EditSchedule(ctx context.Context, id string, edits message.Edits) (*message.Schedule, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	s, err := r.get(ctx, tx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := fromMillis(toMillis(r.now()))

	if edits.Start.Op == message.TimeElapsed {
		return nil, fmt.Errorf("%w: start cannot be elapsed", message.ErrInvalidEdits)
	}
	s.Info.Start = applyTimeEdit(s.Info.Start, edits.Start, now)
	s.Info.End = applyTimeEdit(s.Info.End, edits.End, now)
	if s.Info.Start != nil && s.Info.End != nil && s.Info.Start.After(*s.Info.End) {
		return nil, fmt.Errorf("%w: start after end", message.ErrInvalidEdits)
	}

	if edits.Message != nil {
		audience, err := message.ParseAudience(edits.Message)
		if err != nil {
			return nil, err
		}
		s.Info.Message = edits.Message
		s.Info.Audience = audience
	}
	if edits.Priority != nil {
		s.Info.Priority = *edits.Priority
	}
	if edits.Limit != nil {
		s.Info.Limit = *edits.Limit
	}
	if edits.Metadata != nil {
		s.Metadata = edits.Metadata
	}
	s.UpdatedAt = now

	metadataJSON, err := json.Marshal(nonNilMetadata(s.Metadata))
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE schedules
		SET message = ?, start_at = ?, end_at = ?, priority = ?, limit_count = ?,
			metadata = ?, updated_at = ?
		WHERE id = ?
	`, string(s.Info.Message), nullMillis(s.Info.Start), nullMillis(s.Info.End),
		s.Info.Priority, s.Info.Limit, string(metadataJSON), toMillis(now), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update schedule %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit schedule %s: %w", id, err)
	}
	return s, nil
}

func applyTimeEdit(current *time.Time, edit message.TimeEdit, now time.Time) *time.Time {
	switch edit.Op {
	case message.TimeClear:
		return nil
	case message.TimeSet:
		t := edit.At
		return &t
	case message.TimeElapsed:
		t := now
		return &t
	default:
		return current
	}
}

func (r *ScheduleRepository) get(ctx context.Context, q queryer, id string) (*message.Schedule, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE id = ?
	`, id)

	s, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule %s: %w", id, err)
	}
	return s, nil
}

func (r *ScheduleRepository) query(ctx context.Context, q queryer, query string, args ...any) ([]message.Schedule, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	defer rows.Close()

	var schedules []message.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule row: %w", err)
		}
		schedules = append(schedules, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schedule rows: %w", err)
	}
	return schedules, nil
}

func scanSchedule(row rowScanner) (*message.Schedule, error) {
	var (
		s                  message.Schedule
		msg, triggers, md  string
		start, end         sql.NullInt64
		createdAt, updated int64
	)

	err := row.Scan(
		&s.ID, &s.Info.MessageID, &msg, &start, &end, &s.Info.Priority, &s.Info.Limit,
		&triggers, &md, &createdAt, &updated,
	)
	if err != nil {
		return nil, err
	}

	s.Info.Message = json.RawMessage(msg)
	s.Info.Start = timePtr(start)
	s.Info.End = timePtr(end)
	s.CreatedAt = fromMillis(createdAt)
	s.UpdatedAt = fromMillis(updated)

	if s.Info.Audience, err = message.ParseAudience(s.Info.Message); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(triggers), &s.Info.Triggers); err != nil {
		return nil, fmt.Errorf("failed to decode triggers: %w", err)
	}
	if err := json.Unmarshal([]byte(md), &s.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return &s, nil
}

func nonNilMetadata(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nonNilTriggers(t []message.Trigger) []message.Trigger {
	if t == nil {
		return []message.Trigger{}
	}
	return t
}
