package storage

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Siddhivinayak06/Ai-HealthCare-sub001/internal/apperr"
)

type FileInfo struct {
	PrincipalID  string
	OriginalName string
	ContentType  string
	Size         int64
}

// Storage holds uploaded originals. Save returns the storage path the file
// was written under; that path is the only key, there is no hashing.
type Storage interface {
	Save(file io.Reader, info FileInfo) (string, error)
	Open(path string) (io.ReadSeekCloser, error)
	Delete(path string) error
}

var allowedExtensions = map[string]bool{
	".jpg":   true,
	".jpeg":  true,
	".png":   true,
	".gif":   true,
	".dicom": true,
}

func validateUpload(info FileInfo, maxBytes int64) error {
	ext := strings.ToLower(filepath.Ext(info.OriginalName))
	if !allowedExtensions[ext] {
		return apperr.New(apperr.InvalidUpload, "unsupported file type %q", ext)
	}
	if info.Size > maxBytes {
		return apperr.New(apperr.InvalidUpload, "file exceeds %d bytes", maxBytes)
	}
	return nil
}

var (
	tsMu   sync.Mutex
	lastTs int64
)

// monotonicTimestamp returns a strictly increasing nanosecond timestamp so
// two uploads by the same principal can never collide on name.
func monotonicTimestamp() int64 {
	tsMu.Lock()
	defer tsMu.Unlock()
	ts := time.Now().UnixNano()
	if ts <= lastTs {
		ts = lastTs + 1
	}
	lastTs = ts
	return ts
}

func buildObjectName(info FileInfo) string {
	safe := filepath.Base(info.OriginalName)
	safe = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-':
			return r
		default:
			return '_'
		}
	}, safe)
	return fmt.Sprintf("%s_%d_%s", info.PrincipalID, monotonicTimestamp(), safe)
}
