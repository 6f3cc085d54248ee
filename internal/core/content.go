package core

// content.go reads uploaded files from blob storage.
//
// Files are read fully into memory (XLSX needs random access anyway), bounded
// by the configured maximum size, and hashed with SHA-256 on the way in so
// that duplicate detection never needs a second pass over the blob.

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// ErrFileTooLarge is returned when content exceeds the size limit.
var ErrFileTooLarge = errors.New("file too large")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Content is a fully read upload.
type Content struct {
	Data []byte
	Hash string // hex SHA-256 of Data
}

// ReadContent reads r up to max bytes (0 means unlimited) and hashes it.
func ReadContent(r io.Reader, max int64) (Content, error) {
	h := sha256.New()
	src := io.TeeReader(r, h)
	if max > 0 {
		// one extra byte tells "exactly max" from "more than max"
		src = io.LimitReader(src, max+1)
	}

	data, err := io.ReadAll(src)
	if err != nil {
		return Content{}, fmt.Errorf("read content: %w", err)
	}
	if max > 0 && int64(len(data)) > max {
		return Content{}, fmt.Errorf("%w: limit is %d bytes", ErrFileTooLarge, max)
	}

	return Content{Data: data, Hash: hex.EncodeToString(h.Sum(nil))}, nil
}

// HashContent returns the hex SHA-256 of data.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CleanText strips a leading UTF-8 BOM (common in Windows exports) and
// replaces invalid UTF-8 sequences with '?', one per invalid run.
func CleanText(data []byte) []byte {
	data = bytes.TrimPrefix(data, utf8BOM)
	return bytes.ToValidUTF8(data, []byte("?"))
}
