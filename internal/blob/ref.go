package blob

import (
	"errors"
	"fmt"
	"strings"
)

const (
	uploadsSuffix   = "-uploads"
	processedSuffix = "-processed"
)

// Ref addresses one staged blob.
type Ref struct {
	Container string
	Key       string
}

// InputRef returns {category}-uploads/{id}.{ext}.
func InputRef(category, executionID, ext string) Ref {
	return Ref{Container: category + uploadsSuffix, Key: executionID + "." + normalizeExt(ext)}
}

// OutputRef returns {category}-processed/{id}.{ext}.
func OutputRef(category, executionID, ext string) Ref {
	return Ref{Container: category + processedSuffix, Key: executionID + "." + normalizeExt(ext)}
}

// ParseRef parses the "container/key" form produced by String.
func ParseRef(value string) (Ref, error) {
	container, key, ok := strings.Cut(strings.TrimSpace(value), "/")
	if !ok {
		return Ref{}, fmt.Errorf("blob ref %q: missing container separator", value)
	}
	ref := Ref{Container: container, Key: key}
	if err := ref.Validate(); err != nil {
		return Ref{}, err
	}
	return ref, nil
}

// String renders the ref as "container/key".
func (r Ref) String() string {
	return r.Container + "/" + r.Key
}

// Ext returns the key's extension without the dot.
func (r Ref) Ext() string {
	if idx := strings.LastIndexByte(r.Key, '.'); idx >= 0 {
		return r.Key[idx+1:]
	}
	return ""
}

// Validate rejects refs that could escape their container.
func (r Ref) Validate() error {
	for _, part := range []string{r.Container, r.Key} {
		switch {
		case part == "":
			return errors.New("blob ref: empty component")
		case part == "." || part == "..":
			return fmt.Errorf("blob ref: invalid component %q", part)
		case strings.ContainsAny(part, `/\`):
			return fmt.Errorf("blob ref: component %q contains a path separator", part)
		}
	}
	return nil
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}
