// Package api exposes HTTP handlers for the planner service.
package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"example.com/plannersync/internal/auth"
	"example.com/plannersync/internal/domain"
	"example.com/plannersync/internal/observability"
	"example.com/plannersync/internal/planner"
	"example.com/plannersync/internal/schedule"
)

const maxBodyBytes = 1 << 20

// Handler coordinates HTTP requests with the schedule service.
type Handler struct {
	service *schedule.Service
	logger  *log.Logger
}

// NewHandler builds a Handler.
func NewHandler(service *schedule.Service, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(log.Writer(), "[api] ", log.LstdFlags|log.Lshortfile)
	}
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/users/{uid}/planner", instrument("planner", h.planner))
	mux.HandleFunc("/v1/users/{uid}/planned-workouts", instrument("plan", h.plan))
	mux.HandleFunc("/v1/users/{uid}/planned-workouts/move", instrument("move", h.move))
	mux.HandleFunc("/v1/users/{uid}/planned-workouts/{id}", instrument("delete", h.deleteWorkout))
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) planner(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	uid, ok := authorize(w, r, auth.ScopePlannerRead, auth.ScopePlannerWrite)
	if !ok {
		return
	}

	start, err := dayParam(r, "start_date")
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	end, err := dayParam(r, "end_date")
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	workouts, err := h.service.ListRange(r.Context(), uid, start, end)
	if err != nil {
		h.serviceError(w, err)
		return
	}

	records := make([]planner.Record, 0, len(workouts))
	for _, pw := range workouts {
		records = append(records, toRecord(pw))
	}
	body, err := json.Marshal(records)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	etag := entityTag(body)
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *Handler) move(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	uid, ok := authorize(w, r, auth.ScopePlannerWrite)
	if !ok {
		return
	}

	var req []MoveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	moves := make([]schedule.Move, 0, len(req))
	for i, entry := range req {
		m, err := entry.toMove()
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", fmt.Sprintf("entry %d: %v", i, err))
			return
		}
		moves = append(moves, m)
	}

	if _, err := h.service.Move(r.Context(), uid, moves); err != nil {
		h.serviceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) plan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	uid, ok := authorize(w, r, auth.ScopePlannerWrite)
	if !ok {
		return
	}

	var req PlanRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	date, err := domain.ParseDay(req.Date, time.UTC)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "date must be yyyy-MM-dd")
		return
	}

	pw, err := h.service.Plan(r.Context(), schedule.PlanInput{
		UserID:          uid,
		ID:              req.ID,
		Date:            date,
		Name:            req.Name,
		Description:     req.Description,
		Activity:        req.Activity,
		DurationMinutes: req.DurationMinutes,
		Layers:          req.Layers,
		SwimLayers:      req.SwimLayers,
	})
	if err != nil {
		h.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRecord(pw))
}

func (h *Handler) deleteWorkout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	uid, ok := authorize(w, r, auth.ScopePlannerWrite)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), uid, r.PathValue("id")); err != nil {
		h.serviceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) serviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, schedule.ErrInvalid):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, schedule.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		h.logger.Printf("request failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

// authorize requires claims for the path's user and at least one of scopes.
func authorize(w http.ResponseWriter, r *http.Request, scopes ...string) (string, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return "", false
	}
	uid := r.PathValue("uid")
	if uid == "" || claims.Subject != uid {
		writeError(w, http.StatusForbidden, "forbidden", "token subject does not match user")
		return "", false
	}
	for _, scope := range scopes {
		if claims.HasScope(scope) {
			return uid, true
		}
	}
	writeError(w, http.StatusForbidden, "forbidden", "scope "+scopes[0]+" required")
	return "", false
}

func dayParam(r *http.Request, name string) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return time.Time{}, fmt.Errorf("missing %s parameter", name)
	}
	day, err := domain.ParseDay(raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s parameter", name)
	}
	return day, nil
}

func decodeBody(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return errors.New("unable to read body")
	}
	if len(body) > maxBodyBytes {
		return errors.New("body too large")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.New("unable to parse body")
	}
	return nil
}

// entityTag is a quoted, truncated sha256 of the response body.
func entityTag(body []byte) string {
	sum := sha256.Sum256(body)
	return `"` + hex.EncodeToString(sum[:])[:32] + `"`
}

func etagMatches(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

func toRecord(pw schedule.PlannedWorkout) planner.Record {
	minutes := float64(pw.DurationMinutes)
	return planner.Record{
		ID:              pw.ID,
		Date:            pw.Date.Format(domain.DayLayout),
		Name:            pw.Name,
		Description:     pw.Description,
		Activity:        pw.Activity,
		DurationMinutes: &minutes,
		Layers:          pw.Layers,
		SwimLayers:      pw.SwimLayers,
		IsDeleted:       pw.Deleted,
	}
}

// statusRecorder captures the status code for request metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		observability.RecordRequest(route, rec.status)
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
