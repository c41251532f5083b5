package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"attendance-sync-service/internal/logger"
	"attendance-sync-service/internal/store"
	"attendance-sync-service/internal/sync"
)

const defaultHistoryLimit = 50

type LocationResponse struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	Host           string     `json:"host"`
	Port           int        `json:"port"`
	DatabaseName   string     `json:"database_name"`
	IsActive       bool       `json:"is_active"`
	LastSyncTime   *time.Time `json:"last_sync_time,omitempty"`
	LastSyncStatus string     `json:"last_sync_status,omitempty"`
}

type HistoryResponse struct {
	ID             int64      `json:"id"`
	SyncType       string     `json:"sync_type"`
	RecordsAdded   int        `json:"records_added"`
	RecordsUpdated int        `json:"records_updated"`
	RecordsSkipped int        `json:"records_skipped"`
	Status         string     `json:"status"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

type ChangeResponse struct {
	Index       int    `json:"index"`
	Table       string `json:"table"`
	Key         string `json:"key"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Approved    bool   `json:"approved"`
}

type ReviewResponse struct {
	LocationID   int64            `json:"location_id"`
	DetectedAt   time.Time        `json:"detected_at"`
	Conflicts    int              `json:"conflicts"`
	Approved     int              `json:"approved"`
	FailedTables []string         `json:"failed_tables,omitempty"`
	Changes      []ChangeResponse `json:"changes"`
}

type ResultResponse struct {
	RunID    string   `json:"run_id"`
	Added    int      `json:"added"`
	Updated  int      `json:"updated"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors"`
	Status   string   `json:"status"`
	Duration string   `json:"duration"`
}

type StatusResponse struct {
	State               string     `json:"state"`
	AutoSyncEnabled     bool       `json:"auto_sync_enabled"`
	SyncIntervalMinutes int        `json:"sync_interval_minutes"`
	NextRun             *time.Time `json:"next_run,omitempty"`
	Tables              []string   `json:"tables"`
}

type SettingsRequest struct {
	AutoSyncEnabled     bool `json:"auto_sync_enabled"`
	SyncIntervalMinutes int  `json:"sync_interval_minutes"`
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func toLocation(l *store.Location) LocationResponse {
	return LocationResponse{
		ID:             l.ID,
		Name:           l.Name,
		Host:           l.Host,
		Port:           l.Port,
		DatabaseName:   l.DatabaseName,
		IsActive:       l.IsActive,
		LastSyncTime:   nullTime(l.LastSyncTime),
		LastSyncStatus: l.LastSyncStatus.String,
	}
}

func toReview(locationID int64, d *sync.Detection) ReviewResponse {
	resp := ReviewResponse{
		LocationID: locationID,
		DetectedAt: d.DetectedAt,
		Conflicts:  d.Changes.CountByType()[sync.Conflict],
		Approved:   d.Changes.Approved(),
		Changes:    make([]ChangeResponse, 0, len(d.Changes)),
	}
	for _, t := range d.FailedTables() {
		resp.FailedTables = append(resp.FailedTables, string(t))
	}
	for i, c := range d.Changes {
		resp.Changes = append(resp.Changes, ChangeResponse{
			Index:       i,
			Table:       string(c.Table),
			Key:         c.RecordKey,
			Description: c.Description,
			Type:        string(c.Type),
			Approved:    c.IsApproved,
		})
	}
	return resp
}

func toResult(r *sync.SyncResult) ResultResponse {
	errs := r.Errors
	if errs == nil {
		errs = []string{}
	}
	return ResultResponse{
		RunID:    r.RunID,
		Added:    r.Added,
		Updated:  r.Updated,
		Skipped:  r.Skipped,
		Errors:   errs,
		Status:   r.StatusMessage(),
		Duration: r.Duration.String(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Warn("Failed to write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeSyncError maps engine errors onto HTTP status codes.
func writeSyncError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, sync.ErrSyncInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, sync.ErrConnectionFailed):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		logger.Log.Error("Request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func locationID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	settings := h.scheduler.Settings()
	resp := StatusResponse{
		State:               string(h.manager.State()),
		AutoSyncEnabled:     settings.AutoSyncEnabled,
		SyncIntervalMinutes: settings.SyncIntervalMinutes,
	}
	if next := h.scheduler.NextRun(); !next.IsZero() {
		resp.NextRun = &next
	}
	for _, t := range h.manager.Tables() {
		resp.Tables = append(resp.Tables, string(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SyncIntervalMinutes <= 0 {
		writeError(w, http.StatusBadRequest, "sync_interval_minutes must be positive")
		return
	}

	settings, err := h.scheduler.UpdateSettings(r.Context(), req.AutoSyncEnabled, req.SyncIntervalMinutes)
	if err != nil {
		writeSyncError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SettingsRequest{
		AutoSyncEnabled:     settings.AutoSyncEnabled,
		SyncIntervalMinutes: settings.SyncIntervalMinutes,
	})
}

func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	// the pass outlives the request
	if err := h.manager.TriggerAsync(context.WithoutCancel(r.Context())); err != nil {
		writeSyncError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (h *Handler) ListLocations(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	locations, err := h.store.ListLocations(r.Context(), activeOnly)
	if err != nil {
		writeSyncError(w, err)
		return
	}

	resp := make([]LocationResponse, 0, len(locations))
	for _, l := range locations {
		resp = append(resp, toLocation(l))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id, err := locationID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid location id")
		return
	}

	limit, offset := defaultHistoryLimit, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
	}

	if _, err := h.store.GetLocation(r.Context(), id); err != nil {
		writeSyncError(w, err)
		return
	}

	rows, err := h.store.GetSyncHistory(r.Context(), id, limit, offset)
	if err != nil {
		writeSyncError(w, err)
		return
	}

	resp := make([]HistoryResponse, 0, len(rows))
	for _, row := range rows {
		resp = append(resp, HistoryResponse{
			ID:             row.ID,
			SyncType:       row.SyncType,
			RecordsAdded:   row.RecordsAdded,
			RecordsUpdated: row.RecordsUpdated,
			RecordsSkipped: row.RecordsSkipped,
			Status:         row.Status,
			ErrorMessage:   row.ErrorMessage.String,
			StartedAt:      row.StartedAt,
			CompletedAt:    nullTime(row.CompletedAt),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Detect runs a manual detection and replaces any review pending for the
// location.
func (h *Handler) Detect(w http.ResponseWriter, r *http.Request) {
	id, err := locationID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid location id")
		return
	}

	d, err := h.manager.Detect(r.Context(), id)
	if err != nil {
		writeSyncError(w, err)
		return
	}

	h.mu.Lock()
	h.reviews[id] = d
	resp := toReview(id, d)
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetChanges(w http.ResponseWriter, r *http.Request) {
	id, err := locationID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid location id")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.reviews[id]
	if !ok {
		writeError(w, http.StatusNotFound, "no pending changes for location")
		return
	}
	writeJSON(w, http.StatusOK, toReview(id, d))
}

func (h *Handler) DiscardChanges(w http.ResponseWriter, r *http.Request) {
	id, err := locationID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid location id")
		return
	}

	h.mu.Lock()
	delete(h.reviews, id)
	h.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) approveChange(approved bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := locationID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid location id")
			return
		}
		index, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid change index")
			return
		}

		h.mu.Lock()
		defer h.mu.Unlock()
		d, ok := h.reviews[id]
		if !ok {
			writeError(w, http.StatusNotFound, "no pending changes for location")
			return
		}
		if err := d.Changes.SetApproved(index, approved); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, toReview(id, d))
	}
}

// Apply writes the reviewed changes and drops the review.
func (h *Handler) Apply(w http.ResponseWriter, r *http.Request) {
	id, err := locationID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid location id")
		return
	}

	h.mu.Lock()
	d, ok := h.reviews[id]
	var snapshot sync.Detection
	if ok {
		snapshot = *d
		snapshot.Changes = append(sync.ChangeSet(nil), d.Changes...)
	}
	h.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "no pending changes for location")
		return
	}

	result, err := h.manager.Apply(r.Context(), &snapshot)
	if result == nil {
		writeSyncError(w, err)
		return
	}

	h.mu.Lock()
	if h.reviews[id] == d {
		delete(h.reviews, id)
	}
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, toResult(result))
}
