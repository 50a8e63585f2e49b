package plugin

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Descriptor is the static metadata of a tool.
type Descriptor struct {
	Name            string
	Label           string
	Category        string
	InputExtensions []string
	MaxInputBytes   int64
	OutputExtension string
	MaxAttempts     int
	Lease           time.Duration
	// MaxRuntime bounds a single attempt regardless of heartbeats.
	MaxRuntime time.Duration
	// Inline tools run on the request path instead of being dispatched.
	Inline bool
}

// Validate checks that the descriptor can back execution records.
func (d Descriptor) Validate() error {
	switch {
	case strings.TrimSpace(d.Name) == "":
		return fmt.Errorf("tool descriptor: name is required")
	case strings.TrimSpace(d.Category) == "":
		return fmt.Errorf("tool %s: category is required", d.Name)
	case strings.ContainsAny(d.Category, `/\.`):
		return fmt.Errorf("tool %s: category %q must not contain path characters", d.Name, d.Category)
	case len(d.InputExtensions) == 0:
		return fmt.Errorf("tool %s: at least one input extension is required", d.Name)
	case NormalizeExtension(d.OutputExtension) == "":
		return fmt.Errorf("tool %s: output extension is required", d.Name)
	case d.MaxInputBytes <= 0:
		return fmt.Errorf("tool %s: max input bytes must be positive", d.Name)
	case d.MaxAttempts < 0:
		return fmt.Errorf("tool %s: max attempts must not be negative", d.Name)
	case d.Lease < 0:
		return fmt.Errorf("tool %s: lease must not be negative", d.Name)
	case d.MaxRuntime < 0:
		return fmt.Errorf("tool %s: max runtime must not be negative", d.Name)
	}
	return nil
}

// AcceptsExtension reports whether ext (with or without the dot) is allowed.
func (d Descriptor) AcceptsExtension(ext string) bool {
	ext = NormalizeExtension(ext)
	if ext == "" {
		return false
	}
	return slices.ContainsFunc(d.InputExtensions, func(allowed string) bool {
		return NormalizeExtension(allowed) == ext
	})
}

// NormalizeExtension lowercases ext and strips a leading dot.
func NormalizeExtension(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// Input describes an upload before its bytes are staged. Head holds the
// first bytes of the stream for content sniffing.
type Input struct {
	Filename  string
	Extension string
	MIME      string
	Size      int64
	Head      []byte
}

// Params carries caller-supplied parameters. Interpretation belongs to the tool.
type Params map[string]string

// Get returns the trimmed value for key.
func (p Params) Get(key string) (string, bool) {
	value, ok := p[key]
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

// Float parses key as a float. A missing key returns ok=false with no error.
func (p Params) Float(key string) (value float64, ok bool, err error) {
	raw, ok := p.Get(key)
	if !ok {
		return 0, false, nil
	}
	value, err = strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %q is not a number", key, raw)
	}
	return value, true, nil
}

// Output is the file a tool produced inside its workspace.
type Output struct {
	// Path is the produced file. It must live inside the workspace.
	Path string
	// Name is an optional display name; the download filename is derived
	// from the original upload when empty.
	Name string
}

// Contract is implemented by every conversion tool.
type Contract interface {
	Descriptor() Descriptor
	// Validate is a cheap, side-effect-free check of the sniffed input and
	// parameters. Failures are *ValidationError.
	Validate(in Input, params Params) error
	// Process transforms src into a file inside ws. It either returns a
	// complete output or an error; failures meant for the client are
	// *ExecutionError.
	Process(ctx context.Context, ws *Workspace, src io.Reader, params Params) (Output, error)
	// Cleanup releases the handles tracked during Process. It must not panic
	// on handles that were never created.
	Cleanup(handles []string)
}
