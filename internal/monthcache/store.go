// Package monthcache persists one JSON envelope of planned workouts per calendar month.
package monthcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"example.com/plannersync/internal/domain"
)

const fileSuffix = ".json"

var monthKeyPattern = regexp.MustCompile(`^\d{4}-\d{2}$`)

// ErrInvalidMonthKey is returned when a key is not of the form yyyy-MM.
var ErrInvalidMonthKey = errors.New("invalid month key")

// Option configures optional behaviour for the FileStore.
type Option func(*FileStore)

// WithLogger overrides the logger used to report corrupt files.
func WithLogger(logger *log.Logger) Option {
	return func(s *FileStore) {
		s.logger = logger
	}
}

// WithClock overrides the time source used for FetchedAt stamps written by Update.
func WithClock(now func() time.Time) Option {
	return func(s *FileStore) {
		s.now = now
	}
}

// FileStore keeps envelopes as <root>/<yyyy-MM>.json.
type FileStore struct {
	root   string
	logger *log.Logger
	now    func() time.Time
	locks  *keyedMutex
}

// NewFileStore constructs a store rooted at dir. The directory is created lazily on first save.
func NewFileStore(dir string, opts ...Option) *FileStore {
	s := &FileStore{
		root:   dir,
		logger: log.New(log.Writer(), "[monthcache] ", log.LstdFlags|log.Lshortfile),
		now:    time.Now,
		locks:  newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the envelope for monthKey. Missing, unreadable and corrupt files all report false.
func (s *FileStore) Load(monthKey string) (*domain.Envelope, bool) {
	path, err := s.path(monthKey)
	if err != nil {
		s.logger.Printf("load skipped (month=%q): %v", monthKey, err)
		return nil, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Printf("read failed (month=%s): %v", monthKey, err)
		}
		return nil, false
	}

	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.logger.Printf("corrupt envelope treated as absent (month=%s): %v", monthKey, err)
		recordCorrupt()
		return nil, false
	}
	if env.MonthKey != monthKey {
		s.logger.Printf("envelope key mismatch treated as absent (file=%s, envelope=%s)", monthKey, env.MonthKey)
		recordCorrupt()
		return nil, false
	}
	env.Normalize()
	return &env, true
}

// Save normalises env and writes it atomically: temp file in the same directory, fsync, rename.
// It waits for any Update running on the same month.
func (s *FileStore) Save(env domain.Envelope) error {
	path, err := s.path(env.MonthKey)
	if err != nil {
		return err
	}
	unlock := s.locks.Lock(env.MonthKey)
	defer unlock()
	return s.saveLocked(path, env)
}

func (s *FileStore) saveLocked(path string, env domain.Envelope) error {
	env.Normalize()
	if env.Workouts == nil {
		env.Workouts = []domain.CachedWorkout{}
	}
	if env.SoftDeletedIDs == nil {
		env.SoftDeletedIDs = []string{}
	}

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("encode envelope %s: %w", env.MonthKey, err)
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("write envelope %s: %w", env.MonthKey, err)
	}
	recordSaved()
	return nil
}

// Update runs a load-modify-save cycle while holding the month's lock. fn receives the current
// envelope (a fresh one when nothing is cached) and returns false to skip the write.
func (s *FileStore) Update(monthKey string, fn func(env *domain.Envelope) bool) error {
	path, err := s.path(monthKey)
	if err != nil {
		return err
	}
	unlock := s.locks.Lock(monthKey)
	defer unlock()

	env, ok := s.Load(monthKey)
	if !ok {
		env = &domain.Envelope{MonthKey: monthKey, FetchedAt: s.now().UTC()}
	}
	if !fn(env) {
		return nil
	}
	env.MonthKey = monthKey
	return s.saveLocked(path, *env)
}

// ClearAll removes every cached envelope, taking each month's lock in turn. Other files in the
// directory are left alone.
func (s *FileStore) ClearAll() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("list cache dir: %w", err)
	}
	var errs []error
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		monthKey := strings.TrimSuffix(name, fileSuffix)
		if !monthKeyPattern.MatchString(monthKey) {
			continue
		}
		unlock := s.locks.Lock(monthKey)
		err := os.Remove(filepath.Join(s.root, name))
		unlock()
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *FileStore) path(monthKey string) (string, error) {
	if !monthKeyPattern.MatchString(monthKey) {
		return "", fmt.Errorf("%w: %q", ErrInvalidMonthKey, monthKey)
	}
	return filepath.Join(s.root, monthKey+fileSuffix), nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
