// Package store saves delivered frames to disk and keeps a JSON journal of
// recent captures.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/wachiwi/framecam/pkg/camera"
)

const (
	// NamePrefix starts every saved file name.
	NamePrefix  = "FrameCam_"
	journalName = "journal.json"
	// maxSuffix bounds the search for a free name within one second.
	maxSuffix = 1000
)

// ErrNotFound is returned for names that are not saved frames.
var ErrNotFound = errors.New("frame not found")

// Entry records one saved frame.
type Entry struct {
	Name      string    `json:"name"`
	Seq       uint64    `json:"seq"`
	Format    string    `json:"format"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Size      int       `json:"size"`
	Timestamp time.Time `json:"timestamp"`
}

// Store writes frames into one directory.
type Store struct {
	mu        sync.Mutex
	dir       string
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// New returns a store rooted at dir. Journal entries older than retention
// are dropped on every save; zero keeps them all.
func New(dir string, retention time.Duration) *Store {
	return &Store{dir: dir, retention: retention, now: time.Now, logger: slog.Default()}
}

func (s *Store) Dir() string { return s.dir }

// Deliver saves f.
func (s *Store) Deliver(_ context.Context, f *camera.Frame) error {
	name, err := s.Save(f)
	if err != nil {
		return err
	}
	s.logger.Info("frame saved", "file", name, "seq", f.Seq, "bytes", len(f.Data))
	return nil
}

// Save writes f as FrameCam_YYYYMMDD_HHMMSS.<ext>, adding _N when the name
// is taken, and journals it. It returns the file name.
func (s *Store) Save(f *camera.Frame) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("create %s: %w", s.dir, err)
	}

	at := f.CapturedAt
	if at.IsZero() {
		at = s.now()
	}
	base := NamePrefix + at.Format("20060102_150405")
	ext := "." + f.Format.Ext()

	var name string
	var file *os.File
	for i := 0; i < maxSuffix; i++ {
		name = base + ext
		if i > 0 {
			name = fmt.Sprintf("%s_%d%s", base, i, ext)
		}
		var err error
		file, err = os.OpenFile(filepath.Join(s.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("create %s: %w", name, err)
		}
		file = nil
	}
	if file == nil {
		return "", fmt.Errorf("no free file name for %s%s", base, ext)
	}

	if _, err := file.Write(f.Data); err != nil {
		file.Close()
		os.Remove(file.Name())
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", name, err)
	}

	entry := Entry{
		Name:      name,
		Seq:       f.Seq,
		Format:    string(f.Format),
		Width:     f.Width,
		Height:    f.Height,
		Size:      len(f.Data),
		Timestamp: at,
	}
	if err := s.appendEntry(entry); err != nil {
		s.logger.Error("Error adding journal entry", "file", name, "error", err)
	}
	return name, nil
}

// Entries reads the journal, newest last.
func (s *Store) Entries() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readJournal()
}

// Path resolves a saved frame name to its file path.
func (s *Store) Path(name string) (string, error) {
	if name != filepath.Base(name) || !strings.HasPrefix(name, NamePrefix) {
		return "", fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	p := filepath.Join(s.dir, name)
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return p, nil
}

func (s *Store) journalPath() string {
	return filepath.Join(s.dir, journalName)
}

func (s *Store) readJournal() ([]Entry, error) {
	data, err := os.ReadFile(s.journalPath())
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return []Entry{}, nil
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		// A corrupted journal is replaced on the next save.
		return []Entry{}, nil
	}
	return entries, nil
}

func (s *Store) appendEntry(e Entry) error {
	entries, err := s.readJournal()
	if err != nil {
		return err
	}
	entries = append(entries, e)

	if s.retention > 0 {
		cutoff := s.now().Add(-s.retention)
		recent := entries[:0]
		for _, e := range entries {
			if e.Timestamp.After(cutoff) {
				recent = append(recent, e)
			}
		}
		entries = recent
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.journalPath(), data, 0644)
}
