// Package api exposes HTTP handlers for offline record submission, sync, conflict review and
// live visit transitions.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/carevisits/internal/auth"
	"example.com/carevisits/internal/domain"
	"example.com/carevisits/internal/offline"
	"example.com/carevisits/internal/persistence"
)

// Handler coordinates HTTP requests with the visit service and the offline sync engine.
type Handler struct {
	visits  *domain.Service
	records *offline.Store
	engine  *offline.Engine
}

// NewHandler builds a Handler.
func NewHandler(visits *domain.Service, records *offline.Store, engine *offline.Engine) *Handler {
	return &Handler{visits: visits, records: records, engine: engine}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/offline-records", h.submitRecord)
	mux.HandleFunc("POST /v1/offline-records/sync", h.syncPending)
	mux.HandleFunc("GET /v1/offline-records/pending", h.listPending)
	mux.HandleFunc("GET /v1/offline-records/review", h.listForReview)
	mux.HandleFunc("POST /v1/offline-records/{id}/resolve", h.resolveRecord)

	mux.HandleFunc("GET /v1/visits/me/today", h.visitsToday)
	mux.HandleFunc("GET /v1/visits/me/upcoming", h.visitsUpcoming)
	mux.HandleFunc("GET /v1/visits/{id}", h.getVisit)
	mux.HandleFunc("GET /v1/visits/{id}/tasks", h.visitTasks)
	mux.HandleFunc("POST /v1/visits/{id}/start", h.startVisit)
	mux.HandleFunc("POST /v1/visits/{id}/end", h.endVisit)
	mux.HandleFunc("POST /v1/visits/{id}/cancel", h.cancelVisit)
	mux.HandleFunc("POST /v1/visits/{id}/tasks/{taskId}/complete", h.completeTask)

	mux.HandleFunc("GET /healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) submitRecord(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeOfflineWrite)
	if !ok {
		return
	}

	var req SubmitRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	rec, err := h.records.Accept(r.Context(), offline.AcceptInput{
		StaffID:         claims.Subject,
		Type:            domain.RecordType(req.Type),
		Payload:         req.Payload,
		DeviceTimestamp: req.DeviceTimestamp,
		DeviceInfo:      req.DeviceInfo,
		Location:        req.Location,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, SubmitRecordResponse{
		RecordID:         rec.ID,
		Sequence:         rec.Sequence,
		Type:             string(rec.Type),
		Synced:           rec.Synced,
		ServerReceivedAt: rec.ServerReceivedAt,
	})
}

func (h *Handler) syncPending(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeOfflineWrite, auth.ScopeOfflineReview)
	if !ok {
		return
	}

	staffID := claims.Subject
	if other := strings.TrimSpace(r.URL.Query().Get("staff_id")); other != "" && other != staffID {
		if !claims.HasScope(auth.ScopeOfflineReview) {
			writeError(w, http.StatusForbidden, "forbidden", "scope offline:review required to sync another staff member")
			return
		}
		staffID = other
	}

	result, err := h.engine.Sync(r.Context(), staffID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) listPending(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeOfflineWrite)
	if !ok {
		return
	}

	records, err := h.records.ListPending(r.Context(), claims.Subject)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListRecordsResponse{Items: nonNilRecords(records)})
}

func (h *Handler) listForReview(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireScope(w, r, auth.ScopeOfflineReview); !ok {
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid cursor")
		return
	}

	records, next, err := h.records.ListForReview(r.Context(), cursor, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListRecordsResponse{
		Items:      nonNilRecords(records),
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) resolveRecord(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeOfflineReview)
	if !ok {
		return
	}

	var req ResolveRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
			return
		}
	}

	rec, err := h.records.Resolve(r.Context(), r.PathValue("id"), claims.Subject, req.Notes)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) getVisit(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeVisitsRead, auth.ScopeVisitsWrite)
	if !ok {
		return
	}

	visit, err := h.visits.GetVisit(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if visit.StaffID != claims.Subject && !claims.HasScope(auth.ScopeOfflineReview) {
		writeError(w, http.StatusForbidden, "forbidden", "visit is assigned to another staff member")
		return
	}
	writeJSON(w, http.StatusOK, visit)
}

// visitsToday lists the caller's visits for the current day. The day is taken in the IANA zone
// named by ?tz, UTC when absent.
func (h *Handler) visitsToday(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeVisitsRead, auth.ScopeVisitsWrite)
	if !ok {
		return
	}
	loc := time.UTC
	if tz := r.URL.Query().Get("tz"); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation", "tz must be an IANA time zone")
			return
		}
		loc = l
	}

	visits, err := h.visits.VisitsForDay(r.Context(), claims.Subject, h.visits.Now().In(loc))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListVisitsResponse{Items: nonNilVisits(visits)})
}

func (h *Handler) visitsUpcoming(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeVisitsRead, auth.ScopeVisitsWrite)
	if !ok {
		return
	}

	visits, err := h.visits.UpcomingVisits(r.Context(), claims.Subject)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListVisitsResponse{Items: nonNilVisits(visits)})
}

func (h *Handler) visitTasks(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeVisitsRead, auth.ScopeVisitsWrite)
	if !ok {
		return
	}

	visit, err := h.visits.GetVisit(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if visit.StaffID != claims.Subject && !claims.HasScope(auth.ScopeOfflineReview) {
		writeError(w, http.StatusForbidden, "forbidden", "visit is assigned to another staff member")
		return
	}
	tasks := visit.Tasks
	if tasks == nil {
		tasks = []domain.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *Handler) startVisit(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeVisitsWrite)
	if !ok {
		return
	}
	req, ok := decodeTransition(w, r)
	if !ok {
		return
	}

	visit, err := h.visits.StartVisit(r.Context(), r.PathValue("id"), claims.Subject, req.Location)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, visit)
}

func (h *Handler) endVisit(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeVisitsWrite)
	if !ok {
		return
	}
	req, ok := decodeTransition(w, r)
	if !ok {
		return
	}

	res, err := h.visits.EndVisit(r.Context(), r.PathValue("id"), claims.Subject, req.Location)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	anomalies := make([]string, 0, len(res.Anomalies))
	for _, a := range res.Anomalies {
		anomalies = append(anomalies, string(a))
	}
	writeJSON(w, http.StatusOK, EndVisitResponse{
		Visit:           res.Visit,
		DurationMinutes: res.DurationMinutes,
		Anomalies:       anomalies,
	})
}

func (h *Handler) cancelVisit(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeVisitsWrite)
	if !ok {
		return
	}

	var req CancelRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
			return
		}
	}

	visit, err := h.visits.CancelVisit(r.Context(), r.PathValue("id"), claims.Subject, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, visit)
}

func (h *Handler) completeTask(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeVisitsWrite)
	if !ok {
		return
	}

	task, err := h.visits.CompleteTask(r.Context(), r.PathValue("id"), claims.Subject, r.PathValue("taskId"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func decodeTransition(w http.ResponseWriter, r *http.Request) (TransitionRequest, bool) {
	var req TransitionRequest
	if r.ContentLength == 0 {
		return req, true
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return req, false
	}
	return req, true
}

// requireScope resolves the caller's claims and checks that at least one of scopes is
// granted.
func requireScope(w http.ResponseWriter, r *http.Request, scopes ...string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	for _, scope := range scopes {
		if claims.HasScope(scope) {
			return claims, true
		}
	}
	writeError(w, http.StatusForbidden, "forbidden", "scope "+strings.Join(scopes, " or ")+" required")
	return nil, false
}

// SubmitRecordRequest is the payload for POST /v1/offline-records.
type SubmitRecordRequest struct {
	Type            string             `json:"type"`
	Payload         json.RawMessage    `json:"payload"`
	DeviceTimestamp time.Time          `json:"device_timestamp"`
	DeviceInfo      *domain.DeviceInfo `json:"device_info,omitempty"`
	Location        *domain.Location   `json:"location,omitempty"`
}

// Validate ensures request correctness. Payload contents are checked per record type by
// the offline store.
func (r SubmitRecordRequest) Validate() error {
	if strings.TrimSpace(r.Type) == "" {
		return errors.New("type is required")
	}
	if len(r.Payload) == 0 {
		return errors.New("payload is required")
	}
	if r.DeviceTimestamp.IsZero() {
		return errors.New("device_timestamp is required")
	}
	return nil
}

// SubmitRecordResponse acknowledges a staged record.
type SubmitRecordResponse struct {
	RecordID         string    `json:"record_id"`
	Sequence         int64     `json:"sequence"`
	Type             string    `json:"type"`
	Synced           bool      `json:"synced"`
	ServerReceivedAt time.Time `json:"server_received_at"`
}

// ListRecordsResponse packages offline record listings.
type ListRecordsResponse struct {
	Items      []domain.OfflineRecord `json:"items"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}

// ResolveRequest is the optional body for the resolve endpoint.
type ResolveRequest struct {
	Notes string `json:"notes"`
}

// TransitionRequest is the optional body for live start and end calls.
type TransitionRequest struct {
	Location *domain.Location `json:"location,omitempty"`
}

// CancelRequest is the optional body for the cancel endpoint.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// EndVisitResponse reports a completed visit with its computed duration and anomalies.
type EndVisitResponse struct {
	Visit           domain.Visit `json:"visit"`
	DurationMinutes int          `json:"duration_minutes"`
	Anomalies       []string     `json:"anomalies"`
}

// ListVisitsResponse packages visit listings.
type ListVisitsResponse struct {
	Items []domain.Visit `json:"items"`
}

func nonNilVisits(in []domain.Visit) []domain.Visit {
	if in == nil {
		return []domain.Visit{}
	}
	return in
}

func nonNilRecords(in []domain.OfflineRecord) []domain.OfflineRecord {
	if in == nil {
		return []domain.OfflineRecord{}
	}
	return in
}

// writeDomainError maps the domain error taxonomy onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	kind := domain.ErrorKind(err)
	status := http.StatusInternalServerError
	switch kind {
	case "validation":
		status = http.StatusBadRequest
	case "not_found":
		status = http.StatusNotFound
	case "forbidden":
		status = http.StatusForbidden
	case "invalid_state", "conflict":
		status = http.StatusConflict
	default:
		kind = "server_error"
	}
	writeError(w, status, kind, err.Error())
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
