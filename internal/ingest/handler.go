// Package ingest serves the telemetry upload endpoints.
package ingest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/benaslater/animal-ai-online-experiment/internal/config"
	"github.com/benaslater/animal-ai-online-experiment/internal/journal"
	"github.com/benaslater/animal-ai-online-experiment/internal/metrics"
	"github.com/benaslater/animal-ai-online-experiment/internal/notify"
	"github.com/benaslater/animal-ai-online-experiment/internal/payload"
	"github.com/benaslater/animal-ai-online-experiment/internal/uploader"
)

// ObjectStore is the slice of the uploader the handlers use.
type ObjectStore interface {
	PutObject(ctx context.Context, d uploader.Descriptor) error
	Bucket() string
}

// Handler serves POST /v1/rows and POST /v1/sessions.
type Handler struct {
	store       ObjectStore
	journal     *journal.Store
	dispatcher  *notify.Dispatcher
	metrics     *metrics.Collector
	contentType string
	maxBody     int64
	maxRows     int
	dedupe      bool
	now         func() time.Time
}

func NewHandler(store ObjectStore, jr *journal.Store, d *notify.Dispatcher, mc *metrics.Collector, cfg *config.Config) *Handler {
	return &Handler{
		store:       store,
		journal:     jr,
		dispatcher:  d,
		metrics:     mc,
		contentType: cfg.Upload.ContentType,
		maxBody:     cfg.Ingest.MaxBodyBytes,
		maxRows:     cfg.Ingest.MaxSessionRows,
		dedupe:      cfg.Journal.DedupeSessions,
		now:         time.Now,
	}
}

type rowRequest struct {
	UserID  string   `json:"user_id"`
	Headers []string `json:"headers"`
	Values  []string `json:"values"`
}

type sessionRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	CSVData   string `json:"csv_data"`
	Encoding  string `json:"encoding"`
}

// HandleRows accepts a single telemetry row and uploads it as a two-line CSV
// object keyed by the sanitized user id and a millisecond timestamp.
func (h *Handler) HandleRows(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req rowRequest
	if err := readJSON(w, r, h.maxBody, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if len(req.Headers) == 0 || len(req.Values) == 0 {
		h.metrics.RecordRejectedPayload()
		writeError(w, http.StatusBadRequest, "headers and values must not be empty")
		return
	}
	if len(req.Headers) != len(req.Values) {
		h.metrics.RecordRejectedPayload()
		writeError(w, http.StatusBadRequest, fmt.Sprintf("headers/values length mismatch: %d vs %d", len(req.Headers), len(req.Values)))
		return
	}

	now := h.now()
	body := payload.RowCSV(req.Headers, req.Values)
	key := payload.RowObjectKey(req.UserID, now)

	desc := uploader.Descriptor{
		Key:         key,
		Body:        body,
		ContentType: h.contentType,
	}
	if status, msg := h.upload(r.Context(), desc, req.UserID, "", now); status != 0 {
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Telemetry uploaded successfully",
		"s3_key":  key,
	})
}

// HandleSessions accepts a whole session CSV, validates it against the
// CSVWriter contract and uploads it verbatim under
// <sanitized-user>/<session>.csv.
func (h *Handler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req sessionRequest
	// Base64 transport plus the JSON envelope inflate the body; the real
	// size cap is enforced on the decoded CSV below.
	if err := readJSON(w, r, h.maxBody*2, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.CSVData == "" {
		writeError(w, http.StatusBadRequest, "missing csv_data in request body")
		return
	}

	csvData := req.CSVData
	if req.Encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(csvData)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid base64 encoding: "+err.Error())
			return
		}
		csvData = string(decoded)
	}
	if int64(len(csvData)) > h.maxBody {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file too large, max size: %d bytes", h.maxBody))
		return
	}

	rowCount, err := ValidateSessionCSV(csvData, h.maxRows)
	if err != nil {
		h.metrics.RecordRejectedPayload()
		writeError(w, http.StatusBadRequest, "invalid CSV: "+err.Error())
		return
	}

	now := h.now()
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = GenerateSessionID(now)
	}
	key := payload.SessionObjectKey(req.UserID, sessionID)
	body := []byte(csvData)

	if h.dedupe {
		seen, err := h.journal.SeenSession(req.UserID, sessionID, journal.Checksum(body))
		if err != nil {
			slog.Error("session dedupe lookup failed", "error", err)
		} else if seen {
			writeJSON(w, http.StatusOK, map[string]any{
				"message":    "Session already uploaded",
				"s3_key":     key,
				"session_id": sessionID,
				"duplicate":  true,
			})
			return
		}
	}

	desc := uploader.Descriptor{
		Key:         key,
		Body:        body,
		ContentType: h.contentType,
		Metadata: map[string]string{
			"session-id":       sessionID,
			"row-count":        strconv.Itoa(rowCount),
			"upload-timestamp": now.UTC().Format(time.RFC3339),
		},
	}
	if status, msg := h.upload(r.Context(), desc, req.UserID, sessionID, now); status != 0 {
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "Telemetry uploaded successfully",
		"s3_key":     key,
		"row_count":  rowCount,
		"session_id": sessionID,
	})
}

// upload dispatches the PUT, journals the attempt and publishes the event.
// A zero return status means success; otherwise it is the HTTP status the
// caller should answer with.
func (h *Handler) upload(ctx context.Context, desc uploader.Descriptor, user, session string, now time.Time) (int, string) {
	err := h.store.PutObject(ctx, desc)

	rec := journal.Record{
		ObjectKey: desc.Key,
		User:      user,
		Session:   session,
		Size:      int64(len(desc.Body)),
		Checksum:  journal.Checksum(desc.Body),
		Time:      now,
	}
	event := notify.UploadEvent{
		Bucket:    h.store.Bucket(),
		ObjectKey: desc.Key,
		User:      user,
		Session:   session,
		Size:      int64(len(desc.Body)),
	}

	status, msg := 0, ""
	var upErr *uploader.UploadError
	var trErr *uploader.TransportError
	switch {
	case err == nil:
		rec.Status = journal.StatusOK
		event.EventName = notify.EventUploadCompleted
	case errors.As(err, &upErr):
		rec.Status = journal.StatusRejected
		rec.HTTPStatus = upErr.StatusCode
		rec.Error = upErr.Body
		event.EventName = notify.EventUploadFailed
		event.Status = upErr.StatusCode
		event.Error = upErr.Body
		status, msg = http.StatusBadGateway, fmt.Sprintf("upload rejected with status %d", upErr.StatusCode)
		slog.Error("upload rejected", "key", desc.Key, "status", upErr.StatusCode)
	case errors.As(err, &trErr):
		rec.Status = journal.StatusUnreachable
		rec.Error = trErr.Err.Error()
		event.EventName = notify.EventUploadFailed
		event.Error = trErr.Err.Error()
		status, msg = http.StatusBadGateway, "storage service unreachable"
		slog.Error("upload transport failure", "key", desc.Key, "error", trErr.Err)
	default:
		rec.Status = journal.StatusUnreachable
		rec.Error = err.Error()
		event.EventName = notify.EventUploadFailed
		event.Error = err.Error()
		status, msg = http.StatusInternalServerError, "internal server error"
		slog.Error("upload failed", "key", desc.Key, "error", err)
	}

	if h.journal != nil {
		if jerr := h.journal.Append(rec); jerr != nil {
			slog.Error("journal append failed", "error", jerr)
		}
	}
	h.metrics.RecordUpload(rec.Status, rec.Size)
	if h.dispatcher != nil {
		h.dispatcher.Dispatch(event)
	}
	return status, msg
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func readJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
