// Package api exposes HTTP handlers for the activity board.
package api

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"example.com/activityboard/internal/auth"
	"example.com/activityboard/internal/domain"
	"example.com/activityboard/internal/loader"
	"example.com/activityboard/internal/render"
	"example.com/activityboard/internal/render/htmldoc"
)

//go:embed web/activities.html
var activitiesPage string

// Option configures optional behaviour for the Handler.
type Option func(*Handler)

// WithRenderer overrides the renderer used for the activities page.
func WithRenderer(r *render.Renderer) Option {
	return func(h *Handler) {
		h.renderer = r
	}
}

// WithModulePath serves the compiled activity module at /module/activities.wasm.
func WithModulePath(path string) Option {
	return func(h *Handler) {
		h.modulePath = path
	}
}

// WithWindowDays sets the trailing window shown on the activities page and used for CTL.
func WithWindowDays(days int) Option {
	return func(h *Handler) {
		if days > 0 {
			h.windowDays = days
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service    *domain.Service
	renderer   *render.Renderer
	modulePath string
	windowDays int
	logger     logrus.FieldLogger
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, opts ...Option) *Handler {
	h := &Handler{
		service:    service,
		windowDays: 42,
		logger:     logrus.StandardLogger().WithField("component", "api"),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.renderer == nil {
		h.renderer = render.NewRenderer(render.WithLogger(h.logger))
	}
	return h
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/activities", h.activities)
	mux.HandleFunc("/v1/activities/records", h.activityRecords)
	mux.HandleFunc("/v1/activities/load", h.trainingLoad)
	mux.HandleFunc("/v1/activities/", h.activityByID)
	mux.HandleFunc("/activities", h.activitiesPage)
	mux.HandleFunc("/module/activities.wasm", h.module)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) window() time.Duration {
	return time.Duration(h.windowDays) * 24 * time.Hour
}

func (h *Handler) activities(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createActivity(w, r)
	case http.MethodGet:
		h.listActivities(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) activityByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/activities/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing activity id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getActivity(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) createActivity(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	var req RecordActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	activity, replay, err := h.service.RecordActivity(r.Context(), domain.RecordActivityInput{
		TenantID:       claims.TenantID,
		UserID:         req.UserID,
		Type:           req.Type,
		Name:           req.Name,
		StartedAt:      req.StartedAt,
		MovingTimeSec:  req.MovingTimeSec,
		ElapsedTimeSec: req.ElapsedTimeSec,
		DistanceM:      req.DistanceM,
		AverageHR:      req.AverageHR,
		MaxHR:          req.MaxHR,
		Source:         req.Source,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidActivity), errors.Is(err, domain.ErrUnsupportedType):
			writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		}
		return
	}

	status := http.StatusCreated
	if replay {
		status = http.StatusOK
	}
	writeJSON(w, status, RecordActivityResponse{
		Activity: toActivityView(*activity),
		Replay:   replay,
	})
}

func (h *Handler) getActivity(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := requireScope(w, r, auth.ScopeActivitiesRead)
	if !ok {
		return
	}

	activity, err := h.service.GetActivity(r.Context(), claims.TenantID, id)
	if err != nil {
		if errors.Is(err, domain.ErrActivityNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "activity not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, toActivityView(*activity))
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeActivitiesRead)
	if !ok {
		return
	}
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			if parsed > 100 {
				parsed = 100
			}
			limit = parsed
		}
	}

	cursor, err := domain.ParseCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	activities, next, err := h.service.ListActivities(r.Context(), claims.TenantID, userID, cursor, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]ActivityView, 0, len(activities))
	for _, a := range activities {
		items = append(items, toActivityView(a))
	}

	writeJSON(w, http.StatusOK, ListActivitiesResponse{
		Items:      items,
		NextCursor: next.Token(),
	})
}

// activityRecords serves the table projection consumed by the browser client.
func (h *Handler) activityRecords(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := requireScope(w, r, auth.ScopeActivitiesRead)
	if !ok {
		return
	}
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	records, err := h.service.RecentRecords(r.Context(), claims.TenantID, userID, h.window())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) trainingLoad(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := requireScope(w, r, auth.ScopeActivitiesRead)
	if !ok {
		return
	}
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	load, err := h.service.TrainingLoad(r.Context(), claims.TenantID, userID, h.windowDays)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, TrainingLoadResponse{
		WindowDays: load.WindowDays,
		Run:        load.Run,
		Ride:       load.Ride,
		Swim:       load.Swim,
	})
}

// activitiesPage renders the activity table server-side through the same
// loader and renderer the module pipeline uses.
func (h *Handler) activitiesPage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := requireScope(w, r, auth.ScopeActivitiesRead)
	if !ok {
		return
	}
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	log := h.logger.WithFields(logrus.Fields{"tenant": claims.TenantID, "user": userID})

	doc, err := htmldoc.ParseString(activitiesPage)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	source := loader.NewStoreSource(h.service, claims.TenantID, userID, h.window())
	handle, err := loader.New(source, loader.WithLogger(log)).Load(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "load_failed", err.Error())
		return
	}
	defer handle.Close(ctx)

	if _, err := h.renderer.RenderFrom(ctx, doc, handle); err != nil {
		log.WithError(err).Error("render activities page failed")
		writeError(w, http.StatusInternalServerError, "render_failed", err.Error())
		return
	}

	load, err := h.service.TrainingLoad(ctx, claims.TenantID, userID, h.windowDays)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	doc.SetTextByID("window-days", strconv.Itoa(h.windowDays))
	doc.SetTextByID("ctl-run", strconv.FormatFloat(load.Run, 'f', 2, 64))
	doc.SetTextByID("ctl-ride", strconv.FormatFloat(load.Ride, 'f', 2, 64))
	doc.SetTextByID("ctl-swim", strconv.FormatFloat(load.Swim, 'f', 2, 64))

	var buf bytes.Buffer
	if err := doc.Render(&buf); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (h *Handler) module(w http.ResponseWriter, r *http.Request) {
	if h.modulePath == "" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/wasm")
	http.ServeFile(w, r, h.modulePath)
}

func requireScope(w http.ResponseWriter, r *http.Request, scope string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	// Write access implies read access.
	if !claims.HasScope(scope) && !(scope == auth.ScopeActivitiesRead && claims.HasScope(auth.ScopeActivitiesWrite)) {
		writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
		return nil, false
	}
	return claims, true
}

func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing user_id parameter")
		return "", false
	}
	return userID, true
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
