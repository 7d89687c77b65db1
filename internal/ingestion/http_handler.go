package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/rpattn/eventingest/internal/auth"
	"github.com/rpattn/eventingest/internal/fetch"
	"github.com/rpattn/eventingest/internal/jobs"
	"github.com/rpattn/eventingest/internal/quota"
	"github.com/rpattn/eventingest/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	maxMultipartMemory = 32 << 20
	defaultIssueLimit  = 50
)

// Handler exposes ingestion over HTTP.
type Handler struct {
	service *Service
	logger  logrus.FieldLogger
}

// NewHTTPHandler routes the ingestion endpoints.
func NewHTTPHandler(service *Service, logger logrus.FieldLogger) http.Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	h := &Handler{service: service, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /imports", h.upload)
	mux.HandleFunc("POST /imports/url", h.importURL)
	mux.HandleFunc("GET /imports/{id}", h.status)
	mux.HandleFunc("POST /imports/{id}/approve", h.approve)
	mux.HandleFunc("GET /files/{id}/import", h.statusForFile)
	mux.HandleFunc("POST /schedules", h.createSchedule)
	return mux
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.service.maxBytes+maxMultipartMemory)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, fetch.ErrTooLarge.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, fmt.Sprintf("invalid form data: %v", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, fmt.Sprintf("file required: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	catalogID, err := uuid.Parse(strings.TrimSpace(r.FormValue("catalogId")))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid catalog id: %v", err), http.StatusBadRequest)
		return
	}
	datasetID, err := optionalUUID(r.FormValue("datasetId"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid dataset id: %v", err), http.StatusBadRequest)
		return
	}
	skip, _ := strconv.ParseBool(r.FormValue("skipDuplicateChecking"))
	owner, _ := auth.UserIDFromContext(r.Context())

	result, err := h.service.Upload(r.Context(), UploadRequest{
		CatalogID:             catalogID,
		OwnerID:               owner,
		DatasetID:             datasetID,
		DatasetName:           strings.TrimSpace(r.FormValue("datasetName")),
		FileName:              header.Filename,
		MimeType:              header.Header.Get("Content-Type"),
		SkipDuplicateChecking: skip,
		Data:                  file,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	status := http.StatusAccepted
	if result.IsDuplicate && !skip {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

func (h *Handler) importURL(w http.ResponseWriter, r *http.Request) {
	var in jobs.URLFetchInput
	if !decodeJSON(w, r, &in) {
		return
	}
	if owner, ok := auth.UserIDFromContext(r.Context()); ok {
		in.OwnerID = owner
	}
	if err := h.service.ImportURL(r.Context(), in); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"queued": true})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	status, err := h.service.Status(r.Context(), id, issueLimit(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) statusForFile(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	status, err := h.service.StatusForFile(r.Context(), id, issueLimit(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	job, err := h.service.Approve(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	schedule, err := h.service.CreateSchedule(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	schedule.Auth = schedule.Auth.Redacted()
	writeJSON(w, http.StatusCreated, schedule)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, repository.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, jobs.ErrNotAwaitingApproval), errors.Is(err, jobs.ErrTransitionInProgress):
		status = http.StatusConflict
	case errors.Is(err, fetch.ErrTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, quota.ErrQuotaExceeded):
		status = http.StatusTooManyRequests
	}
	if status == http.StatusInternalServerError {
		h.logger.WithError(err).Error("ingestion request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid request body: %v", err)})
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid id: %v", err)})
		return uuid.Nil, false
	}
	return id, true
}

func optionalUUID(raw string) (*uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func issueLimit(r *http.Request) int {
	if n, err := strconv.Atoi(r.URL.Query().Get("issues")); err == nil && n > 0 && n <= 500 {
		return n
	}
	return defaultIssueLimit
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
