package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/configwatch/configd/pkg/model"
)

// logRecord is one line of the append-only publish log.
type logRecord struct {
	Timestamp      time.Time `json:"timestamp"`
	AppID          string    `json:"appId"`
	Cluster        string    `json:"cluster"`
	Namespace      string    `json:"namespace"`
	ReleaseKey     string    `json:"releaseKey"`
	NotificationID int64     `json:"notificationId"`
	Comment        string    `json:"comment,omitempty"`
}

// FileAppendLog is an AppendLogger that writes one JSON line per publish
// to a file opened in append mode and kept open across calls, since
// every publish only ever appends.
type FileAppendLog struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewFileAppendLog opens (creating if necessary) the log file at path
// for appending.
func NewFileAppendLog(path string) (*FileAppendLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating publish log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening publish log %s: %w", path, err)
	}
	return &FileAppendLog{file: f, enc: json.NewEncoder(f)}, nil
}

// Append implements store.AppendLogger.
func (l *FileAppendLog) Append(key model.NsKey, release model.Release, meta Metadata) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	record := logRecord{
		Timestamp:      release.Timestamp,
		AppID:          key.AppID,
		Cluster:        key.Cluster,
		Namespace:      key.Namespace,
		ReleaseKey:     release.ReleaseKey,
		NotificationID: release.NotificationID,
		Comment:        meta.Comment,
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	if err := l.enc.Encode(record); err != nil {
		return fmt.Errorf("writing publish log record: %w", err)
	}
	return nil
}

// Close releases the underlying file handle.
func (l *FileAppendLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
