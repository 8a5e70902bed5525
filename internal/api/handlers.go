package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/vietddude/noteably/internal/core/apperr"
	"github.com/vietddude/noteably/internal/core/domain"
	"github.com/vietddude/noteably/internal/infra/storage"
	"github.com/vietddude/noteably/internal/ingest"
)

// multipartMemory is how much of an upload is buffered in memory before
// spilling to a temp file.
const multipartMemory = 32 << 20

type errorResponse struct {
	Error   string         `json:"error"`
	Type    string         `json:"type"`
	Details map[string]any `json:"details,omitempty"`
}

type createJobResponse struct {
	JobID         string           `json:"job_id"`
	Status        domain.JobStatus `json:"status"`
	EstimatedTime int              `json:"estimated_time"`
}

type listJobsResponse struct {
	Jobs []*domain.Job `json:"jobs"`
}

type contentResponse struct {
	JobID   string                     `json:"job_id"`
	Status  domain.JobStatus           `json:"status"`
	Content map[string]json.RawMessage `json:"content"`
}

type subscriptionResponse struct {
	*domain.Subscription
	UploadsRemaining int     `json:"uploads_remaining"`
	MinutesRemaining float64 `json:"minutes_remaining"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	limit := int64(s.deps.MaxUploadMB*1024*1024) + multipartMemory
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, apperr.Newf(apperr.KindInvalidFile, "File too large. Max allowed: %gMB", s.deps.MaxUploadMB))
			return
		}
		s.writeError(w, apperr.Wrap(apperr.KindInvalidFile, err, "Expected a multipart form with a file"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, apperr.Wrap(apperr.KindInvalidFile, err, "Missing file"))
		return
	}
	defer file.Close()

	types, err := parseMaterialTypes(r.FormValue("material_types"))
	if err != nil {
		s.writeError(w, apperr.Wrap(apperr.KindInvalidFile, err, err.Error()))
		return
	}

	var options map[string]any
	if raw := strings.TrimSpace(r.FormValue("options")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &options); err != nil {
			s.writeError(w, apperr.Wrap(apperr.KindInvalidRequest, err, "options must be a JSON object"))
			return
		}
	}

	contentType := header.Header.Get("Content-Type")
	res, err := s.deps.Ingest.Submit(r.Context(), ingest.Upload{
		OwnerID:       ownerFrom(r.Context()),
		Filename:      header.Filename,
		ContentType:   contentType,
		Size:          header.Size,
		Body:          file,
		MaterialTypes: types,
		Options:       options,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createJobResponse{
		JobID:         res.Job.ID,
		Status:        res.Job.Status,
		EstimatedTime: res.EstimatedSeconds,
	})
}

// parseMaterialTypes accepts a JSON array or a comma separated list.
func parseMaterialTypes(raw string) ([]domain.MaterialType, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "[") {
		var names []string
		if err := json.Unmarshal([]byte(raw), &names); err != nil {
			return nil, errors.New("material_types must be a list of strings")
		}
		raw = strings.Join(names, ",")
	}
	types, err := domain.ParseMaterialTypes(raw)
	if err != nil {
		return nil, errors.New("Must select at least one valid material type")
	}
	return types, nil
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, apperr.New(apperr.KindInvalidRequest, "limit must be a positive integer"))
			return
		}
		limit = min(n, 100)
	}

	jobs, err := s.deps.Jobs.ListByOwner(r.Context(), ownerFrom(r.Context()), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*domain.Job{}
	}
	writeJSON(w, http.StatusOK, listJobsResponse{Jobs: jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.ownedJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleGetContent(w http.ResponseWriter, r *http.Request) {
	job, ok := s.ownedJob(w, r)
	if !ok {
		return
	}

	items, err := s.deps.Content.ListByJob(r.Context(), job.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	content := make(map[string]json.RawMessage, len(items))
	for _, item := range items {
		content[string(item.MaterialType)] = item.Content
	}
	writeJSON(w, http.StatusOK, contentResponse{JobID: job.ID, Status: job.Status, Content: content})
}

// handleGetSubscription reports the caller's limits and usage. Owners
// without a stored subscription get the free tier.
func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r.Context())
	sub, err := s.deps.Subs.Get(r.Context(), owner)
	if errors.Is(err, storage.ErrSubscriptionNotFound) {
		sub, err = domain.DefaultSubscription(owner), nil
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subscriptionResponse{
		Subscription:     sub,
		UploadsRemaining: sub.UploadsRemaining(),
		MinutesRemaining: sub.MinutesRemaining(),
	})
}

// ownedJob loads the job in the path. Jobs of other owners look missing.
func (s *Server) ownedJob(w http.ResponseWriter, r *http.Request) (*domain.Job, bool) {
	id := mux.Vars(r)["id"]
	job, err := s.deps.Jobs.Get(r.Context(), id)
	if errors.Is(err, storage.ErrJobNotFound) || (err == nil && job.OwnerID != ownerFrom(r.Context())) {
		s.writeError(w, apperr.New(apperr.KindNotFound, "Job not found"))
		return nil, false
	}
	if err != nil {
		s.writeError(w, err)
		return nil, false
	}
	return job, true
}

// writeError reports classified errors with their own message and status.
// Anything else is logged and reported generically.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	e, ok := apperr.As(err)
	if !ok {
		s.log.Error("Request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "an unexpected error occurred", Type: "internal"})
		return
	}
	if e.StatusCode() >= http.StatusInternalServerError {
		s.log.Error("Request failed", "kind", e.Kind, "error", err)
	}
	writeJSON(w, e.StatusCode(), errorResponse{Error: e.Message, Type: string(e.Kind), Details: e.Details})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
