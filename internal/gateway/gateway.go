// Package gateway is the synchronous front door for conversion requests. It
// validates and stages an upload, records a pending execution, and hands it
// to the dispatcher (or runs it inline for fast tools) without waiting for
// the conversion itself.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"convertd/internal/blob"
	"convertd/internal/dispatch"
	"convertd/internal/execution"
	"convertd/internal/logging"
	"convertd/internal/observability"
	"convertd/internal/plugin"
	"convertd/internal/services"
)

// HeadBytes is how much of an upload is read before the first validation.
const HeadBytes = 3 << 10

const (
	fallbackMaxAttempts = 3
	fallbackLease       = 10 * time.Minute
	// DefaultOwner is recorded when the caller supplies none.
	DefaultOwner = "anonymous"
)

// Request is one conversion submission.
type Request struct {
	Tool     string
	Filename string
	Body     io.Reader
	Params   map[string]string
	Owner    string
}

// Receipt identifies the accepted execution.
type Receipt struct {
	ExecutionID string
	Status      execution.Status
}

// InlineRunner runs an execution on the request path.
type InlineRunner interface {
	Execute(ctx context.Context, req dispatch.TriggerRequest) (dispatch.Outcome, error)
}

// Options wires a Gateway.
type Options struct {
	Registry *plugin.Registry
	Store    *execution.Store
	Blobs    blob.Store
	Trigger  dispatch.Triggerer
	// Inline runs tools whose descriptor sets Inline. Nil dispatches them too.
	Inline InlineRunner
	// MaxUploadBytes caps every upload regardless of tool. Zero disables it.
	MaxUploadBytes int64
	Logger         *slog.Logger
}

// Gateway accepts submissions.
type Gateway struct {
	registry  *plugin.Registry
	store     *execution.Store
	blobs     blob.Store
	trigger   dispatch.Triggerer
	inline    InlineRunner
	maxUpload int64
	logger    *slog.Logger
}

// New validates opts.
func New(opts Options) (*Gateway, error) {
	if opts.Registry == nil || opts.Store == nil || opts.Blobs == nil || opts.Trigger == nil {
		return nil, errors.New("gateway requires registry, store, blob store, and trigger")
	}
	return &Gateway{
		registry:  opts.Registry,
		store:     opts.Store,
		blobs:     opts.Blobs,
		trigger:   opts.Trigger,
		inline:    opts.Inline,
		maxUpload: opts.MaxUploadBytes,
		logger:    logging.NewComponentLogger(opts.Logger, "gateway"),
	}, nil
}

// Submit validates and stages req. Validation failures return
// *plugin.ValidationError and leave no trace; an unknown tool returns
// *plugin.NotFoundError. Once the record exists, later failures are captured
// on the record and Submit still returns the receipt.
func (g *Gateway) Submit(ctx context.Context, req Request) (receipt Receipt, err error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanSubmit, observability.AttrTool.String(req.Tool))
	defer func() {
		if receipt.ExecutionID != "" {
			span.SetAttributes(observability.AttrExecutionID.String(receipt.ExecutionID))
		}
		observability.EndSpan(span, err)
	}()

	p, desc, err := g.registry.Lookup(req.Tool)
	if err != nil {
		return Receipt{}, err
	}
	if req.Body == nil {
		return Receipt{}, plugin.Invalid("missing_file", "A file upload is required")
	}
	filename := filepath.Base(strings.TrimSpace(req.Filename))
	ext := plugin.NormalizeExtension(filepath.Ext(filename))
	if !desc.AcceptsExtension(ext) {
		return Receipt{}, plugin.Invalid("unsupported_extension", "%s accepts %s files only", desc.Name, strings.Join(desc.InputExtensions, ", "))
	}
	params := plugin.Params(req.Params)
	if params == nil {
		params = plugin.Params{}
	}

	limit := desc.MaxInputBytes
	if g.maxUpload > 0 && g.maxUpload < limit {
		limit = g.maxUpload
	}
	data, err := g.readBounded(p, filename, ext, req.Body, limit, params)
	if err != nil {
		return Receipt{}, err
	}

	id := uuid.NewString()
	ctx = services.WithExecutionID(ctx, id)
	ctx = services.WithTool(ctx, desc.Name)
	logger := logging.WithContext(ctx, g.logger)

	inRef := blob.InputRef(desc.Category, id, ext)
	if err := g.blobs.Put(ctx, inRef, bytes.NewReader(data), int64(len(data))); err != nil {
		return Receipt{}, services.Wrap(services.ErrStorage, "gateway", "stage input", inRef.String(), err)
	}

	rec := &execution.Record{
		ID:               id,
		ToolName:         desc.Name,
		Category:         desc.Category,
		Owner:            ownerOrDefault(req.Owner),
		Parameters:       params,
		InputRef:         inRef.String(),
		OriginalFilename: filename,
		MaxAttempts:      orInt(desc.MaxAttempts, fallbackMaxAttempts),
		Lease:            orDuration(desc.Lease, fallbackLease),
	}
	if err := g.store.Create(ctx, rec); err != nil {
		if delErr := g.blobs.Delete(context.WithoutCancel(ctx), inRef); delErr != nil {
			logging.WarnWithContext(logger, "staged input left behind", "input_cleanup_failed",
				logging.String("input_ref", inRef.String()),
				logging.Error(delErr),
				logging.String(logging.FieldImpact, "orphan input blob until manual cleanup"),
			)
		}
		return Receipt{}, services.Wrap(services.ErrStorage, "gateway", "create record", "record store unavailable", err)
	}

	logger.Info("execution accepted",
		logging.String(logging.FieldEventType, "execution_accepted"),
		logging.String("owner", rec.Owner),
		logging.String("input_ref", rec.InputRef),
		logging.String("size", humanize.IBytes(uint64(len(data)))),
		logging.Bool("inline", desc.Inline && g.inline != nil),
	)

	trigger := dispatch.RequestFor(rec)
	if desc.Inline && g.inline != nil {
		return g.runInline(ctx, trigger, logger), nil
	}
	if err := g.trigger.Trigger(ctx, trigger); err != nil {
		logging.WarnWithContext(logger, "trigger not enqueued", "trigger_enqueue_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "execution stays pending until the reaper re-dispatches it"),
		)
	}
	return Receipt{ExecutionID: id, Status: execution.StatusPending}, nil
}

// readBounded sniffs the head of body and validates before buffering the
// rest, and stops reading as soon as limit is crossed.
func (g *Gateway) readBounded(p plugin.Contract, filename, ext string, body io.Reader, limit int64, params plugin.Params) ([]byte, error) {
	var buf bytes.Buffer
	headLen := int64(HeadBytes)
	if headLen > limit+1 {
		headLen = limit + 1
	}
	if _, err := io.CopyN(&buf, body, headLen); err != nil && !errors.Is(err, io.EOF) {
		return nil, plugin.Invalid("upload_failed", "The upload could not be read")
	}
	if int64(buf.Len()) > limit {
		return nil, tooLarge(limit)
	}

	head := append([]byte(nil), buf.Bytes()...)
	in := plugin.Input{
		Filename:  filename,
		Extension: ext,
		MIME:      mimetype.Detect(head).String(),
		Size:      int64(len(head)),
		Head:      head,
	}
	if err := p.Validate(in, params); err != nil {
		return nil, asValidation(err)
	}

	if int64(buf.Len()) == headLen {
		if _, err := io.CopyN(&buf, body, limit+1-int64(buf.Len())); err != nil && !errors.Is(err, io.EOF) {
			return nil, plugin.Invalid("upload_failed", "The upload could not be read")
		}
		if int64(buf.Len()) > limit {
			return nil, tooLarge(limit)
		}
		in.Size = int64(buf.Len())
		if err := p.Validate(in, params); err != nil {
			return nil, asValidation(err)
		}
	}
	return buf.Bytes(), nil
}

func tooLarge(limit int64) error {
	return plugin.Invalid("too_large", "The file exceeds the %s upload limit", humanize.IBytes(uint64(limit)))
}

func asValidation(err error) error {
	var verr *plugin.ValidationError
	if errors.As(err, &verr) {
		return verr
	}
	return plugin.Invalid("invalid_input", "%s", err.Error())
}

// runInline executes on the request path. The receipt reports the record's
// status after the attempt, which is terminal unless the attempt was refused
// or interrupted; callers see completed or failed without polling.
func (g *Gateway) runInline(ctx context.Context, req dispatch.TriggerRequest, logger *slog.Logger) Receipt {
	receipt := Receipt{ExecutionID: req.ExecutionID, Status: execution.StatusPending}
	if _, err := g.inline.Execute(ctx, req); err != nil {
		logging.WarnWithContext(logger, "inline execution did not finish", "inline_execution_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "execution stays pending until the reaper re-dispatches it"),
		)
	}
	if rec, err := g.store.Get(ctx, req.ExecutionID); err == nil {
		receipt.Status = rec.Status
	}
	return receipt
}

func ownerOrDefault(owner string) string {
	if owner = strings.TrimSpace(owner); owner != "" {
		return owner
	}
	return DefaultOwner
}

func orInt(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func orDuration(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}

// String renders a receipt for logs.
func (r Receipt) String() string {
	return fmt.Sprintf("%s (%s)", r.ExecutionID, r.Status)
}
