package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	appanalysis "github.com/jonathandeng7/ART/internal/application/analysis"
	domain "github.com/jonathandeng7/ART/internal/domain/analysis"
	"github.com/jonathandeng7/ART/internal/middleware"
)

// maxBodyBytes cukup untuk gambar base64 inline
const maxBodyBytes = 20 << 20

// Options wires the cross-cutting pieces of the HTTP surface. Every field is optional.
type Options struct {
	Log          logrus.FieldLogger
	Metrics      *middleware.Metrics
	RateLimiter  *middleware.RateLimiter
	CORSOrigins  []string
	HealthChecks map[string]middleware.HealthChecker

	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	// Only enable behind a proxy that overwrites those headers.
	TrustProxy bool
}

type Router struct {
	svc     *appanalysis.Service
	log     logrus.FieldLogger
	metrics *middleware.Metrics
}

func NewRouter(svc *appanalysis.Service, opts Options) http.Handler {
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	if opts.HealthChecks == nil {
		opts.HealthChecks = map[string]middleware.HealthChecker{
			"store": middleware.CheckerFunc(svc.Health),
		}
	}

	r := &Router{svc: svc, log: opts.Log, metrics: opts.Metrics}
	mux := chi.NewRouter()

	if opts.TrustProxy {
		mux.Use(chimw.RealIP)
	}
	mux.Use(chimw.Recoverer)
	mux.Use(middleware.Logging(opts.Log))
	if opts.Metrics != nil {
		mux.Use(opts.Metrics.Middleware)
	}
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))
	if opts.RateLimiter != nil {
		mux.Use(middleware.RateLimit(opts.RateLimiter))
	}

	mux.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	mux.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	mux.Get("/api/health", middleware.HealthHandler(opts.HealthChecks))
	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics.Handler())
	}

	mux.Route("/api/image-analysis", func(rt chi.Router) {
		rt.Post("/", r.wrap(r.handleSubmit))
		rt.Put("/", r.wrap(r.handleUpsert))
		rt.Get("/", r.wrap(r.handleList))
		rt.Get("/search/{image_name}", r.wrap(r.handleSearch))
		rt.Get("/{id}", r.wrap(r.handleGet))
		rt.Put("/{id}", r.wrap(r.handleUpdate))
		rt.Get("/{id}/image", r.wrap(r.handleImage))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}

		var verr *domain.ValidationError
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "analysis not found")
		case errors.As(err, &verr):
			// input invalid ikut kelas 500, detail tetap dikirim
			r.log.WithField("path", req.URL.Path).WithError(err).Warn("invalid request")
			writeError(w, http.StatusInternalServerError, verr.Error())
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		default:
			r.log.WithError(err).WithField("path", req.URL.Path).Error("request failed")
			writeError(w, http.StatusInternalServerError, err.Error())
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	_ = writeJSON(w, status, map[string]string{"detail": detail})
}

// decodeBody decodes and validates a JSON request body
func decodeBody(w http.ResponseWriter, req *http.Request, dst any) error {
	req.Body = http.MaxBytesReader(w, req.Body, maxBodyBytes)
	if err := json.NewDecoder(req.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return domain.Invalid("", fmt.Sprintf("invalid JSON body: %v", err))
	}
	return middleware.ValidateStruct(dst)
}

type submitRequest struct {
	ImageName    string         `json:"image_name" validate:"required,notblank,max=512"`
	AnalysisType string         `json:"analysis_type" validate:"required,notblank,max=128"`
	Descriptions []string       `json:"descriptions"`
	Metadata     map[string]any `json:"metadata"`
	ImageURL     string         `json:"image_url"`
	ImageBase64  string         `json:"image_base64"`
}

func (b submitRequest) command() appanalysis.SubmitCommand {
	return appanalysis.SubmitCommand{
		ImageName:    b.ImageName,
		AnalysisType: b.AnalysisType,
		Descriptions: b.Descriptions,
		Metadata:     b.Metadata,
		ImageURL:     b.ImageURL,
		ImageBase64:  b.ImageBase64,
	}
}

type submitResponse struct {
	*domain.Record
	Persisted bool `json:"persisted"`
}

// POST /api/image-analysis
func (r *Router) handleSubmit(w http.ResponseWriter, req *http.Request) error {
	var body submitRequest
	if err := decodeBody(w, req, &body); err != nil {
		return err
	}

	res, err := r.svc.Submit(req.Context(), body.command())
	if err != nil {
		return err
	}

	status := http.StatusOK
	if res.Persisted {
		if r.metrics != nil {
			r.metrics.RecordSubmitted(res.Record.AnalysisType)
		}
	} else {
		status = http.StatusAccepted
		if r.metrics != nil {
			r.metrics.RecordDegraded()
		}
	}
	return writeJSON(w, status, submitResponse{Record: res.Record, Persisted: res.Persisted})
}

// PUT /api/image-analysis
// Upsert by (image_name, analysis_type)
func (r *Router) handleUpsert(w http.ResponseWriter, req *http.Request) error {
	var body submitRequest
	if err := decodeBody(w, req, &body); err != nil {
		return err
	}

	res, err := r.svc.Upsert(req.Context(), body.command())
	if err != nil {
		return err
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
		if r.metrics != nil {
			r.metrics.RecordSubmitted(res.Record.AnalysisType)
		}
	}
	return writeJSON(w, status, res.Record)
}

// GET /api/image-analysis?analysis_type=museum&limit=50
func (r *Router) handleList(w http.ResponseWriter, req *http.Request) error {
	q := req.URL.Query()
	limit, err := middleware.ParseLimit(q.Get("limit"))
	if err != nil {
		return err
	}

	list, err := r.svc.ListAll(req.Context(), domain.ListFilter{
		AnalysisType: q.Get("analysis_type"),
		Limit:        limit,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, list)
}

// GET /api/image-analysis/{id}
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) error {
	rec, err := r.svc.GetByID(req.Context(), domain.RecordID(chi.URLParam(req, "id")))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, rec)
}

// GET /api/image-analysis/search/{image_name}
func (r *Router) handleSearch(w http.ResponseWriter, req *http.Request) error {
	// chi matches on RawPath when it is set, otherwise on the decoded Path
	name := chi.URLParam(req, "image_name")
	if req.URL.RawPath != "" {
		var err error
		if name, err = url.PathUnescape(name); err != nil {
			return domain.Invalid("image_name", "is not a valid path segment")
		}
	}

	list, err := r.svc.SearchByName(req.Context(), name)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, list)
}

// updateRequest: absent fields stay untouched
type updateRequest struct {
	Descriptions *[]string      `json:"descriptions"`
	Metadata     map[string]any `json:"metadata"`
}

// PUT /api/image-analysis/{id}
func (r *Router) handleUpdate(w http.ResponseWriter, req *http.Request) error {
	var body updateRequest
	if err := decodeBody(w, req, &body); err != nil {
		return err
	}

	rec, err := r.svc.Update(req.Context(), domain.RecordID(chi.URLParam(req, "id")), domain.Patch{
		Descriptions: body.Descriptions,
		Metadata:     body.Metadata,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, rec)
}

// GET /api/image-analysis/{id}/image
// Redirects to a presigned link of the archived image copy
func (r *Router) handleImage(w http.ResponseWriter, req *http.Request) error {
	link, err := r.svc.ImageLink(req.Context(), domain.RecordID(chi.URLParam(req, "id")))
	if err != nil {
		return err
	}
	http.Redirect(w, req, link, http.StatusTemporaryRedirect)
	return nil
}
