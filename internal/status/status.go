// Package status answers client polls and result downloads, and handles
// client-initiated early cleanup.
package status

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"

	"convertd/internal/blob"
	"convertd/internal/execution"
	"convertd/internal/logging"
)

var (
	// ErrNotFound indicates an unknown or reaped execution.
	ErrNotFound = errors.New("execution not found")
	// ErrNotReady indicates the execution has not completed.
	ErrNotReady = errors.New("execution result not ready")
)

// Report is the poll response.
type Report struct {
	ExecutionID     string           `json:"execution_id"`
	Status          execution.Status `json:"status"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	ErrorKind       string           `json:"error_kind,omitempty"`
	OutputAvailable bool             `json:"output_available"`
}

// Result is a downloadable output. The caller closes Body.
type Result struct {
	Body        io.ReadCloser
	Filename    string
	ContentType string
	Size        int64
}

// Service reads execution state.
type Service struct {
	store  *execution.Store
	blobs  blob.Store
	logger *slog.Logger
}

// New builds a Service.
func New(store *execution.Store, blobs blob.Store, logger *slog.Logger) *Service {
	return &Service{store: store, blobs: blobs, logger: logging.NewComponentLogger(logger, "status")}
}

// Get reports the execution's state. It never mutates anything.
func (s *Service) Get(ctx context.Context, id string) (Report, error) {
	rec, err := s.lookup(ctx, id)
	if err != nil {
		return Report{}, err
	}
	return Report{
		ExecutionID:     rec.ID,
		Status:          rec.Status,
		ErrorMessage:    rec.ErrorMessage,
		ErrorKind:       rec.ErrorKind,
		OutputAvailable: rec.Status == execution.StatusCompleted,
	}, nil
}

// OpenResult streams the output of a completed execution.
func (s *Service) OpenResult(ctx context.Context, id string) (Result, error) {
	rec, err := s.lookup(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if rec.Status != execution.StatusCompleted {
		return Result{}, fmt.Errorf("%w: status is %s", ErrNotReady, rec.Status)
	}
	ref, err := blob.ParseRef(rec.OutputRef)
	if err != nil {
		return Result{}, fmt.Errorf("output ref %q: %w", rec.OutputRef, err)
	}
	info, err := s.blobs.Stat(ctx, ref)
	if errors.Is(err, blob.ErrNotFound) {
		// Reaper removed the blob between the record read and here.
		return Result{}, ErrNotFound
	}
	if err != nil {
		return Result{}, err
	}
	body, err := s.blobs.Open(ctx, ref)
	if errors.Is(err, blob.ErrNotFound) {
		return Result{}, ErrNotFound
	}
	if err != nil {
		return Result{}, err
	}
	ext := ref.Ext()
	contentType := mime.TypeByExtension("." + ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return Result{
		Body:        body,
		Filename:    DownloadName(rec.OriginalFilename, ext),
		ContentType: contentType,
		Size:        info.Size,
	}, nil
}

// Delete removes the record and both blobs. Unknown IDs succeed. A worker
// still processing the execution discards its output when it finishes.
func (s *Service) Delete(ctx context.Context, id string) error {
	rec, err := s.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}
	var errs []error
	for _, raw := range []string{rec.InputRef, rec.OutputRef} {
		if raw == "" {
			continue
		}
		ref, err := blob.ParseRef(raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.blobs.Delete(ctx, ref); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		logging.WarnWithContext(s.logger, "blob cleanup incomplete after delete", "delete_blob_failed",
			logging.String(logging.FieldExecutionID, id),
			logging.Error(errors.Join(errs...)),
			logging.String(logging.FieldImpact, "orphan blobs remain in storage"),
		)
	}
	s.logger.Info("execution deleted by client",
		logging.String(logging.FieldEventType, "execution_deleted"),
		logging.String(logging.FieldExecutionID, id),
		logging.String("status", string(rec.Status)),
	)
	return nil
}

func (s *Service) lookup(ctx context.Context, id string) (*execution.Record, error) {
	rec, err := s.store.Get(ctx, id)
	if errors.Is(err, execution.ErrNotFound) {
		return nil, ErrNotFound
	}
	return rec, err
}

// DownloadName derives the output filename from the uploaded name and the
// tool's output extension.
func DownloadName(original, ext string) string {
	base := filepath.Base(strings.TrimSpace(original))
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" || stem == "." || stem == string(filepath.Separator) {
		stem = "output"
	}
	if ext == "" {
		return stem
	}
	return stem + "." + ext
}
