package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/joseph-ayodele/esg-compliance/constants"
	"github.com/joseph-ayodele/esg-compliance/internal/common"
	"github.com/joseph-ayodele/esg-compliance/internal/entity"
	"github.com/joseph-ayodele/esg-compliance/internal/ingest"
	"github.com/joseph-ayodele/esg-compliance/internal/review"
	"github.com/joseph-ayodele/esg-compliance/internal/storage"
)

const maxUploadBytes = 32 << 20

type EventDispatcher interface {
	Dispatch(ctx context.Context, ev ingest.Event, force bool) (ingest.Kind, error)
}

type RunStatuser interface {
	RunStatus(ctx context.Context, runID string) (*RunView, error)
}

type AuditExporter interface {
	AuditRecordsXLSX(ctx context.Context, companyName, auditDate string) ([]byte, error)
}

type Decider interface {
	Decide(ctx context.Context, runID, token, decision string) (*entity.SupplierRecord, error)
}

type HTTPRecorder interface {
	RecordHTTPRequest(route string, code int)
}

// HTTPDeps wires the HTTP edge. Metrics, Recorder, Ping and Review are optional.
type HTTPDeps struct {
	Events   EventDispatcher
	Status   RunStatuser
	Export   AuditExporter
	Review   Decider
	Store    storage.Store
	Metrics  http.Handler
	Recorder HTTPRecorder
	Ping     func(ctx context.Context) error
	Timeout  time.Duration
}

type api struct {
	deps HTTPDeps
	log  *slog.Logger
}

// NewRouter builds the chi router of the HTTP API.
func NewRouter(deps HTTPDeps, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Timeout <= 0 {
		deps.Timeout = time.Minute
	}
	a := &api{deps: deps, log: logger}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(a.observe)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(deps.Timeout))

	r.Get("/healthz", a.health)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Post("/events", a.postEvent)
	r.Post("/grading", a.postGrading)
	r.Route("/runs/{id}", func(r chi.Router) {
		r.Get("/", a.getRun)
		r.Get("/export.xlsx", a.exportRun)
	})
	if deps.Review != nil {
		r.Get("/"+review.Approve, a.decide(review.Approve))
		r.Get("/"+review.Reject, a.decide(review.Reject))
	}
	return r
}

// observe logs every request and counts it by route pattern.
func (a *api) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		if a.deps.Recorder != nil {
			a.deps.Recorder.RecordHTTPRequest(route, code)
		}
		a.log.Info("http.request",
			"method", r.Method,
			"route", route,
			"code", code,
			"req_id", chimiddleware.GetReqID(r.Context()),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	if a.deps.Ping != nil {
		if err := a.deps.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) postEvent(w http.ResponseWriter, r *http.Request) {
	var ev ingest.Event
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&ev); err != nil {
		a.fail(w, r, fmt.Errorf("%w: event body: %v", common.ErrInvalidInput, err))
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	kind, err := a.deps.Events.Dispatch(r.Context(), ev, force)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	code := http.StatusAccepted
	if kind == ingest.KindIgnored {
		code = http.StatusOK
	}
	writeJSON(w, code, map[string]string{"key": ev.Key, "kind": kind.String()})
}

// postGrading stores the uploaded reference table under grading/ and loads it.
func (a *api) postGrading(w http.ResponseWriter, r *http.Request) {
	name := path.Base(r.URL.Query().Get("name"))
	key := path.Join(constants.GradingPrefix, name)
	if kind, _ := ingest.Classify(key); kind != ingest.KindGrading {
		a.fail(w, r, fmt.Errorf("%w: name must be a .csv or .xlsx file", common.ErrInvalidInput))
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		a.fail(w, r, fmt.Errorf("%w: upload: %v", common.ErrInvalidInput, err))
		return
	}
	if err := a.deps.Store.Put(r.Context(), key, body); err != nil {
		a.fail(w, r, err)
		return
	}
	if _, err := a.deps.Events.Dispatch(r.Context(), ingest.Event{Key: key}, false); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"key": key})
}

func (a *api) getRun(w http.ResponseWriter, r *http.Request) {
	view, err := a.deps.Status.RunStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *api) exportRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	view, err := a.deps.Status.RunStatus(r.Context(), runID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if view.Run.CompanyName == "" || view.Run.AuditDate == "" {
		a.fail(w, r, fmt.Errorf("%w: run %s has no supplier details yet", common.ErrNotReady, runID))
		return
	}
	data, err := a.deps.Export.AuditRecordsXLSX(r.Context(), view.Run.CompanyName, view.Run.AuditDate)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", runID+"_"+constants.ExportFile))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (a *api) decide(decision string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		sup, err := a.deps.Review.Decide(r.Context(), q.Get("run"), q.Get("token"), decision)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, "Recorded %s for %s (%s).\n", sup.ApprovalStatus, sup.CompanyName, sup.AuditDate)
	}
}

func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := HTTPStatus(err)
	if code >= http.StatusInternalServerError {
		a.log.Error("http.request.failed", "path", r.URL.Path, "error", err)
	} else {
		a.log.Warn("http.request.rejected", "path", r.URL.Path, "code", code, "error", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// HTTPStatus maps domain sentinels onto HTTP status codes.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrInvalidInput), errors.Is(err, common.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrConflict), errors.Is(err, common.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, common.ErrThroughputExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, common.ErrRunTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
