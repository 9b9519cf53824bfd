package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/LeventeLantos/push-dispatch/internal/cache"
	"github.com/LeventeLantos/push-dispatch/internal/model"
	"github.com/LeventeLantos/push-dispatch/internal/repo"
	"github.com/LeventeLantos/push-dispatch/internal/scheduler"
	"github.com/LeventeLantos/push-dispatch/internal/service"
)

type Submitter interface {
	Submit(ctx context.Context, s service.Submission) (service.SubmitResult, error)
}

type RequestReader interface {
	Get(ctx context.Context, id string) (*model.NotificationRequest, error)
	ListByStatus(ctx context.Context, status model.Status, limit, offset int) ([]model.NotificationRequest, error)
}

type SchedulerControl interface {
	Start() bool
	Stop() bool
	IsRunning() bool
	Status() scheduler.Status
}

type Handler struct {
	sched    SchedulerControl
	ingest   Submitter
	requests RequestReader
	devices  service.TokenRegistry
	cache    cache.StatusCache
	validate *validator.Validate
}

func NewHandler(s SchedulerControl, in Submitter, r RequestReader, devices service.TokenRegistry) *Handler {
	return &Handler{
		sched:    s,
		ingest:   in,
		requests: r,
		devices:  devices,
		validate: newValidator(),
	}
}

// WithCache serves finalized records from c before hitting the store.
func (h *Handler) WithCache(c cache.StatusCache) *Handler {
	h.cache = c
	return h
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("rfc3339", func(fl validator.FieldLevel) bool {
		_, err := time.Parse(time.RFC3339, fl.Field().String())
		return err == nil
	})
	return v
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sched.Status())
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	h.sched.Start()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	h.sched.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

func (h *Handler) CreateNotification(w http.ResponseWriter, r *http.Request) {
	var req createNotificationRequest
	if !h.decode(w, r, &req) {
		return
	}

	sub, err := req.toSubmission()
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.ingest.Submit(r.Context(), sub)
	if err != nil {
		writeError(w, err)
		return
	}

	if res.Scheduled {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "notification scheduled",
			"id":      res.ID,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":              true,
		"invalidTokensRemoved": res.InvalidTokensRemoved,
	})
}

func (h *Handler) GetNotification(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if h.cache != nil {
		cached, ok, err := h.cache.GetFinal(r.Context(), id)
		if err != nil {
			slog.Warn("status cache read failed", "request_id", id, "err", err)
		} else if ok {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	req, err := h.requests.Get(r.Context(), id)
	if errors.Is(err, repo.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": err.Error()})
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	status := model.Status(q.Get("status"))
	if status == "" {
		status = model.Pending
	}
	if !status.IsValid() {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   fmt.Sprintf("unknown status %q", status),
		})
		return
	}

	limit := parseInt(q.Get("limit"), 50)
	offset := parseInt(q.Get("offset"), 0)

	items, err := h.requests.ListByStatus(r.Context(), status, limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []model.NotificationRequest{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.devices.RegisterToken(r.Context(), req.UserID, req.Token); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) UnregisterDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.devices.DeleteToken(r.Context(), req.UserID, req.Token); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, &service.ValidationError{Reason: "malformed JSON body"})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, toValidationError(err))
		return false
	}
	return true
}

func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &service.ValidationError{Reason: err.Error()}
	}
	fe := verrs[0]
	reason := "failed " + fe.Tag()
	switch fe.Tag() {
	case "required":
		reason = "is required"
	case "max":
		reason = "exceeds max " + fe.Param()
	case "rfc3339":
		reason = "must be RFC3339"
	}
	return &service.ValidationError{Field: fe.Field(), Reason: reason}
}

func writeError(w http.ResponseWriter, err error) {
	var ve *service.ValidationError
	switch {
	case errors.As(err, &ve), errors.Is(err, service.ErrNoTargets):
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
	default:
		slog.Error("request failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "internal error"})
	}
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
