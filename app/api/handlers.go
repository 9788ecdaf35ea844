package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/inapp-sync/app/database"
	"github.com/lysyi3m/inapp-sync/app/inapp"
	"github.com/lysyi3m/inapp-sync/app/message"
	"github.com/lysyi3m/inapp-sync/app/tasks"
)

func NewHandler(schedules ScheduleStore, state SyncState, remote RemoteData, scheduler tasks.TaskSchedulerInterface) *Handler {
	return &Handler{
		schedules: schedules,
		state:     state,
		remote:    remote,
		scheduler: scheduler,
		now:       time.Now,
	}
}

// OnReconciled records the time of the last completed reconciliation pass.
func (h *Handler) OnReconciled() {
	now := h.now()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastReconciled = &now
}

func (h *Handler) lastReconciledAt() *time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastReconciled
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": h.now().In(time.Local).Format(time.RFC3339),
	}

	if count, err := h.schedules.CountSchedules(c.Request.Context()); err == nil {
		health["schedules"] = count
	}
	if last := h.lastReconciledAt(); last != nil {
		health["last_reconciled_at"] = last.In(time.Local).Format(time.RFC3339)
	}

	c.JSON(http.StatusOK, health)
}

func (h *Handler) APIListSchedules(c *gin.Context) {
	activeOnly, _ := strconv.ParseBool(c.Query("active"))

	schedules, err := h.schedules.ListSchedules(c.Request.Context())
	if err != nil {
		slog.Error("Database error", "operation", "list_schedules", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	now := h.now()
	result := make([]scheduleResponse, 0, len(schedules))
	for _, s := range schedules {
		if activeOnly && !s.IsActive(now) {
			continue
		}
		result = append(result, toScheduleResponse(s, now, false))
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"schedules": result,
		"total":     len(result),
	})
}

func (h *Handler) APIGetSchedule(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing schedule id parameter"})
		return
	}

	s, err := h.schedules.GetSchedule(c.Request.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Schedule not found"})
		return
	}
	if err != nil {
		slog.Error("Database error", "operation", "get_schedule", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, toScheduleResponse(*s, h.now(), true))
}

func (h *Handler) APIGetSyncStatus(c *gin.Context) {
	timestamp, err := h.state.LastPayloadTimestamp()
	if err != nil {
		h.stateError(c, "last_payload_timestamp", err)
		return
	}
	metadata, err := h.state.LastPayloadMetadata()
	if err != nil {
		h.stateError(c, "last_payload_metadata", err)
		return
	}
	messages, err := h.state.ScheduledMessages()
	if err != nil {
		h.stateError(c, "scheduled_messages", err)
		return
	}
	cutoff, err := h.state.ScheduleNewUserCutoffTime()
	if err != nil {
		h.stateError(c, "new_user_cutoff", err)
		return
	}

	status := gin.H{
		"last_payload": gin.H{
			"timestamp": millisOrNil(timestamp),
			"metadata":  metadata,
		},
		"scheduled_messages": messages,
		"scheduled_count":    len(messages),
		"new_user_cutoff":    millisOrNil(cutoff),
		"last_reconciled_at": h.lastReconciledAt(),
	}

	retained := gin.H{
		"timestamp":   nil,
		"subscribers": h.remote.SubscriberCount(),
	}
	if p, ok := h.remote.Payload(inapp.PayloadType); ok {
		retained["timestamp"] = millisOrNil(p.Timestamp)
		retained["metadata"] = p.Metadata
	}
	status["retained_payload"] = retained

	c.JSON(http.StatusOK, status)
}

func (h *Handler) APISetNewUserCutoff(c *gin.Context) {
	var req newUserCutoffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if err := h.state.SetScheduleNewUserCutoffTime(req.Time.UnixMilli()); err != nil {
		h.stateError(c, "set_new_user_cutoff", err)
		return
	}

	slog.Info("New user cutoff updated", "time", req.Time.UTC().Format(time.RFC3339))
	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"new_user_cutoff": req.Time.UTC(),
	})
}

func (h *Handler) APIRefreshRemoteData(c *gin.Context) {
	if err := h.scheduler.RefreshNow(tasks.TriggerAPI); err != nil {
		slog.Error("Error enqueueing refresh task", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "Failed to enqueue refresh task",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"message": "Remote data refresh enqueued",
	})
}

func (h *Handler) stateError(c *gin.Context, operation string, err error) {
	slog.Error("Sync state error", "operation", operation, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Sync state error"})
}

func toScheduleResponse(s message.Schedule, now time.Time, withMessage bool) scheduleResponse {
	resp := scheduleResponse{
		ID:        s.ID,
		MessageID: s.Info.MessageID,
		Active:    s.IsActive(now),
		Start:     s.Info.Start,
		End:       s.Info.End,
		Priority:  s.Info.Priority,
		Limit:     s.Info.Limit,
		Triggers:  s.Info.Triggers,
		Audience:  s.Info.Audience,
		Metadata:  s.Metadata,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
	if resp.Triggers == nil {
		resp.Triggers = []message.Trigger{}
	}
	if withMessage {
		resp.Message = s.Info.Message
	}
	return resp
}

func millisOrNil(ms int64) *time.Time {
	if ms < 0 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}
