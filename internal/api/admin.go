package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/dailydrip/internal/brew"
	"github.com/kalambet/dailydrip/internal/ingest"
	"github.com/kalambet/dailydrip/internal/storage"
)

const maxIngestBodySize = 10 << 20 // 10MB

// IngestRequest uploads a brew log. Content is the raw file, base64 encoded
// when Encoding is "base64". Records may be sent instead of Content.
type IngestRequest struct {
	Source   string           `json:"source"`
	Format   string           `json:"format"`
	Encoding string           `json:"encoding"`
	Content  string           `json:"content"`
	Records  []map[string]any `json:"records"`
}

type AdminDeps struct {
	Store     *storage.Store
	Token     string
	UploadDir string
}

// NewAdminHandler returns the bearer-protected build management API.
func NewAdminHandler(deps AdminDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(BearerAuth(deps.Token))

	r.Post("/ingest", handleIngest(deps))
	r.Get("/builds", handleListBuilds(deps))
	r.Get("/builds/{id}", handleGetBuild(deps))
	r.Get("/jobs/{id}", handleGetJob(deps))

	return r
}

func handleIngest(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodySize)
		defer r.Body.Close()

		var req IngestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if req.Source == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "source is required")
			return
		}
		if req.Content == "" && len(req.Records) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one of content or records is required")
			return
		}

		format := brew.Format(strings.ToLower(req.Format))
		var body []byte
		switch {
		case len(req.Records) > 0:
			b, err := json.Marshal(req.Records)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid records: %v", err)
				return
			}
			body, format = b, brew.FormatJSON

		case req.Encoding == "base64":
			decoded, err := base64.StdEncoding.DecodeString(req.Content)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 content")
				return
			}
			body = decoded

		case req.Encoding == "":
			body = []byte(req.Content)

		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unsupported encoding %q", req.Encoding)
			return
		}

		if format == "" {
			format = brew.DetectFormat(req.Source)
		}
		if format != brew.FormatCSV && format != brew.FormatJSON {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unsupported format %q", req.Format)
			return
		}

		jobID, err := ingest.Stage(deps.Store, deps.UploadDir, req.Source, format, bytes.NewReader(body))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue job: %v", err)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{
			"id":     jobID,
			"status": "queued",
		})
	}
}

func handleListBuilds(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		builds, err := deps.Store.GetRecentBuilds(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list builds: %v", err)
			return
		}

		if builds == nil {
			builds = []storage.Build{}
		}
		writeJSON(w, http.StatusOK, builds)
	}
}

func handleGetBuild(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := deps.Store.GetBuild(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "build not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get build: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	}
}

func handleGetJob(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		j, err := deps.Store.GetJob(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get job: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, j)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
