// Package skipstore persists the user's "skip this meeting" gestures as a
// single JSON object of meeting-id → expiry, rewritten atomically on every
// mutation. Entries expire 24 hours after creation.
package skipstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// TTL is how long a skip hides a meeting.
const TTL = 24 * time.Hour

// Store maps meeting IDs to expiry instants. All mutations rewrite the whole
// file via write-to-temp-then-rename so readers never see a torn file.
type Store struct {
	mu      sync.Mutex
	path    string
	clock   clockwork.Clock
	log     zerolog.Logger
	entries map[string]time.Time
}

func New(path string, clock clockwork.Clock, log zerolog.Logger) *Store {
	return &Store{
		path:    path,
		clock:   clock,
		log:     log.With().Str("component", "skipstore").Logger(),
		entries: make(map[string]time.Time),
	}
}

// Load reads the backing file and purges expired entries before exposing any
// state. A missing or corrupt file is treated as empty; the service never
// blocks on a broken skip file.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]time.Time)

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading skip store: %w", err)
	}

	var onDisk map[string]string
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		s.log.Warn().Err(err).Str("path", s.path).Msg("skip store corrupt, starting empty")
		return nil
	}

	now := s.clock.Now()
	for id, expiryStr := range onDisk {
		expiry, err := time.Parse(time.RFC3339, expiryStr)
		if err != nil {
			s.log.Warn().Str("meeting_id", id).Str("expiry", expiryStr).Msg("dropping unparseable skip entry")
			continue
		}
		if expiry.After(now) {
			s.entries[id] = expiry.UTC()
		}
	}
	return nil
}

// IsSkipped reports whether id has an active entry. Pure lookup, fail-open:
// any internal inconsistency yields false so the service stays available.
func (s *Store) IsSkipped(id string) bool {
	if s == nil || id == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.entries[id]
	return ok && expiry.After(s.clock.Now())
}

// Add records a skip for id expiring TTL from now, persists, and returns the
// expiry as an RFC3339 string.
func (s *Store) Add(id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry := s.clock.Now().Add(TTL).UTC()
	s.entries[id] = expiry
	if err := s.persistLocked(); err != nil {
		delete(s.entries, id)
		return "", err
	}
	return expiry.Format(time.RFC3339), nil
}

// ClearAll wipes every entry, persists the empty object, and returns the
// number of entries removed.
func (s *Store) ClearAll() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := len(s.entries)
	s.entries = make(map[string]time.Time)
	if err := s.persistLocked(); err != nil {
		return 0, err
	}
	return removed, nil
}

// Active returns the currently active entries as id → RFC3339 expiry.
func (s *Store) Active() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	out := make(map[string]string, len(s.entries))
	for id, expiry := range s.entries {
		if expiry.After(now) {
			out[id] = expiry.Format(time.RFC3339)
		}
	}
	return out
}

func (s *Store) persistLocked() error {
	onDisk := make(map[string]string, len(s.entries))
	for id, expiry := range s.entries {
		onDisk[id] = expiry.Format(time.RFC3339)
	}
	raw, err := json.MarshalIndent(onDisk, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding skip store: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating skip store dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("writing skip store temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing skip store: %w", err)
	}
	return nil
}
