// Package blob stores uploaded files behind opaque handles.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store keeps uploaded files. Open returns an error matching fs.ErrNotExist
// for unknown handles.
type Store interface {
	Open(ctx context.Context, handle string) (io.ReadCloser, error)
	Put(ctx context.Context, handle string, r io.Reader) error
	Delete(ctx context.Context, handle string) error
}

// ErrInvalidHandle is returned for handles that escape the store.
var ErrInvalidHandle = errors.New("invalid file handle")

// NewHandle returns a fresh handle for a file uploaded by tenantID, e.g.
// "acme/2024/03/01/6f1c...-sales.csv".
func NewHandle(tenantID, fileName string, now time.Time) string {
	return path.Join(safeSegment(tenantID), now.UTC().Format("2006/01/02"), uuid.NewString()+"-"+safeSegment(fileName))
}

// safeSegment keeps the base name and replaces anything outside a
// conservative character set.
func safeSegment(s string) string {
	s = path.Base(strings.ReplaceAll(s, "\\", "/"))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "file"
	}
	return out
}

// checkHandle rejects absolute handles and any ".." element.
func checkHandle(handle string) error {
	if handle == "" || strings.HasPrefix(handle, "/") || strings.Contains(handle, "\\") {
		return fmt.Errorf("%w: %q", ErrInvalidHandle, handle)
	}
	for _, part := range strings.Split(handle, "/") {
		if part == ".." || part == "." || part == "" {
			return fmt.Errorf("%w: %q", ErrInvalidHandle, handle)
		}
	}
	return nil
}
