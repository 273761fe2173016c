// Package api exposes proximity search over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/proximity-cli/internal/backfill"
	"github.com/sells-group/proximity-cli/internal/model"
	"github.com/sells-group/proximity-cli/internal/search"
)

// Searcher runs proximity searches.
type Searcher interface {
	Search(ctx context.Context, req model.SearchRequest) (*search.Result, error)
}

// Options configures the router.
type Options struct {
	CORSOrigins []string
	// RequestTimeout bounds each search. Zero means no limit.
	RequestTimeout time.Duration
}

// NewRouter builds the HTTP handler.
func NewRouter(s Searcher, opts Options) http.Handler {
	h := &handler{searcher: s, timeout: opts.RequestTimeout}

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/v1", func(r chi.Router) {
		r.Get("/search", h.searchQuery)
		r.Post("/search", h.searchBody)
	})
	return r
}

type handler struct {
	searcher Searcher
	timeout  time.Duration
}

// SearchResponse is the body of a successful search.
type SearchResponse struct {
	Entities      []search.Match  `json:"entities"`
	Source        string          `json:"source"`
	Radius        float64         `json:"radius"`
	Unit          string          `json:"unit"`
	Precision     int             `json:"precision"`
	Escalated     bool            `json:"escalated"`
	Inserted      int             `json:"inserted"`
	Skipped       []backfill.Skip `json:"skipped,omitempty"`
	ProviderError string          `json:"provider_error,omitempty"`
	BucketErrors  int             `json:"bucket_errors,omitempty"`
}

// ErrorResponse is the body of a failed request.
type ErrorResponse struct {
	Error   string             `json:"error"`
	Details []model.FieldError `json:"details,omitempty"`
}

func (h *handler) searchQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	param := func(name string) any {
		if !q.Has(name) {
			return nil
		}
		return q.Get(name)
	}
	req, err := model.ParseSearchRequest(param("lat"), param("lon"), param("min_count"))
	if err != nil {
		writeError(w, err)
		return
	}
	h.run(w, r, req)
}

func (h *handler) searchBody(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Lat      any `json:"lat"`
		Lon      any `json:"lon"`
		MinCount any `json:"min_count"`
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	req, err := model.ParseSearchRequest(body.Lat, body.Lon, body.MinCount)
	if err != nil {
		writeError(w, err)
		return
	}
	h.run(w, r, req)
}

func (h *handler) run(w http.ResponseWriter, r *http.Request, req model.SearchRequest) {
	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	res, err := h.searcher.Search(ctx, req)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := SearchResponse{
		Entities:      res.Entities,
		Source:        res.Source,
		Radius:        res.Radius,
		Unit:          res.Unit,
		Precision:     res.Precision,
		Escalated:     res.Escalated,
		ProviderError: res.ProviderError,
		BucketErrors:  res.BucketErrors,
	}
	if resp.Entities == nil {
		resp.Entities = []search.Match{}
	}
	if res.Backfill != nil {
		resp.Inserted = len(res.Backfill.Inserted)
		resp.Skipped = res.Backfill.Skipped
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeError(w http.ResponseWriter, err error) {
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation failed", Details: ve.Fields})
		return
	}
	zap.L().Error("api: search failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: write response", zap.Error(err))
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
