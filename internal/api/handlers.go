package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"convertd/internal/execution"
	"convertd/internal/gateway"
	"convertd/internal/logging"
	"convertd/internal/plugin"
	"convertd/internal/services"
	"convertd/internal/status"
)

const (
	maxFieldBytes = 64 << 10
	maxFields     = 64
)

// handleConvert stages a multipart upload and answers 202 with a receipt.
// Dispatched tools report "pending". Inline tools have already run by the
// time the receipt is written, so their receipt carries the terminal status
// ("completed" or "failed") and clients may skip the first poll.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	tool := r.PathValue("tool")
	reader, err := r.MultipartReader()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_multipart", "Expected a multipart/form-data upload")
		return
	}

	params := make(map[string]string)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}

	fields := 0
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			s.writeError(w, http.StatusBadRequest, "missing_file", "A file upload is required")
			return
		}
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid_multipart", "The multipart body could not be read")
			return
		}

		if part.FileName() == "" {
			fields++
			if fields > maxFields {
				part.Close()
				s.writeError(w, http.StatusBadRequest, "too_many_fields", fmt.Sprintf("At most %d form fields are accepted", maxFields))
				return
			}
			value, err := io.ReadAll(io.LimitReader(part, maxFieldBytes+1))
			part.Close()
			if err != nil {
				s.writeError(w, http.StatusBadRequest, "invalid_multipart", "The multipart body could not be read")
				return
			}
			if len(value) > maxFieldBytes {
				s.writeError(w, http.StatusBadRequest, "field_too_large", fmt.Sprintf("Field %q is too large", part.FormName()))
				return
			}
			if name := strings.TrimSpace(part.FormName()); name != "" {
				params[name] = strings.TrimSpace(string(value))
			}
			continue
		}

		receipt, err := s.gateway.Submit(r.Context(), gateway.Request{
			Tool:     tool,
			Filename: part.FileName(),
			Body:     part,
			Params:   params,
			Owner:    r.Header.Get(OwnerHeader),
		})
		part.Close()
		if err != nil {
			s.writeSubmitError(w, tool, err)
			return
		}
		s.writeJSON(w, http.StatusAccepted, FromReceipt(receipt))
		return
	}
}

func (s *Server) writeSubmitError(w http.ResponseWriter, tool string, err error) {
	var verr *plugin.ValidationError
	var nf *plugin.NotFoundError
	switch {
	case errors.As(err, &verr):
		s.writeError(w, http.StatusBadRequest, verr.Code, verr.Message)
	case errors.As(err, &nf):
		s.writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("Unknown tool %q", nf.Name))
	case errors.Is(err, services.ErrStorage):
		logging.ErrorWithContext(s.logger, "submission failed", "submit_failed",
			logging.String(logging.FieldTool, tool),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check blob storage and the execution database"),
		)
		s.writeError(w, http.StatusServiceUnavailable, "unavailable", "The upload could not be stored; try again later")
	default:
		logging.ErrorWithContext(s.logger, "submission failed", "submit_failed",
			logging.String(logging.FieldTool, tool),
			logging.Error(err),
		)
		s.writeError(w, http.StatusInternalServerError, "internal", "The upload could not be accepted")
	}
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, ToolListResponse{Tools: FromDescriptors(s.registry.Descriptors())})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.status.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStatusError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	result, err := s.status.OpenResult(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStatusError(w, r, err)
		return
	}
	defer result.Body.Close()

	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": result.Filename}))
	if result.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(result.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, result.Body); err != nil {
		logging.WarnWithContext(s.logger, "download interrupted", "download_interrupted",
			logging.String(logging.FieldExecutionID, r.PathValue("id")),
			logging.Error(err),
		)
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.status.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeStatusError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeStatusError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, status.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "not_found", "Execution not found")
	case errors.Is(err, status.ErrNotReady):
		s.writeError(w, http.StatusConflict, "not_ready", "The conversion has not completed")
	default:
		logging.ErrorWithContext(s.logger, "execution request failed", "execution_request_failed",
			logging.String(logging.FieldExecutionID, r.PathValue("id")),
			logging.String("route", r.Pattern),
			logging.Error(err),
		)
		s.writeError(w, http.StatusInternalServerError, "internal", "The request could not be completed")
	}
}

// handleHealth answers 200 only when the record database passes its schema
// and integrity checks; a damaged database answers 503 with the details.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	db, err := s.store.CheckHealth(r.Context())
	if err != nil {
		logging.ErrorWithContext(s.logger, "health check failed", "health_check_failed",
			logging.String("db_path", db.DBPath),
			logging.Error(err),
		)
		s.writeError(w, http.StatusServiceUnavailable, "unavailable", "record store unavailable")
		return
	}
	summary, err := s.store.Health(r.Context())
	if err != nil {
		logging.ErrorWithContext(s.logger, "health check failed", "health_check_failed", logging.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "unavailable", "record store unavailable")
		return
	}

	resp := HealthResponse{
		Status: "ok",
		Counts: map[string]int{
			string(execution.StatusPending):    summary.Pending,
			string(execution.StatusProcessing): summary.Processing,
			string(execution.StatusCompleted):  summary.Completed,
			string(execution.StatusFailed):     summary.Failed,
		},
		Total: summary.Total,
		Tools: s.registry.Len(),
		Database: DatabaseHealth{
			SchemaVersion: db.SchemaVersion,
			TableExists:   db.TableExists,
			Integrity:     db.IntegrityCheck,
		},
	}
	code := http.StatusOK
	if !db.TableExists || !db.IntegrityCheck {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
		logging.WarnWithContext(s.logger, "record database degraded", "health_degraded",
			logging.String("db_path", db.DBPath),
			logging.Bool("table_exists", db.TableExists),
			logging.Bool("integrity_ok", db.IntegrityCheck),
			logging.String(logging.FieldImpact, "submissions and status reads may fail"),
		)
	}
	s.writeJSON(w, code, resp)
}
