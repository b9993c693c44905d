// Package settings persists small amounts of user preference data, such
// as the default project and pinned projects, in a bbolt file under the
// user's config directory.
package settings

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketSettings = []byte("settings")
	keyApp         = []byte("app")
)

// Settings is the persisted preference document.
type Settings struct {
	DefaultProject string    `json:"default_project,omitempty"`
	PinnedProjects []string  `json:"pinned_projects,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Pinned reports whether a project is pinned.
func (s *Settings) Pinned(project string) bool {
	return slices.Contains(s.PinnedProjects, project)
}

// Pin adds a project to the pinned set, keeping the set sorted.
func (s *Settings) Pin(project string) {
	if s.Pinned(project) {
		return
	}
	s.PinnedProjects = append(s.PinnedProjects, project)
	slices.Sort(s.PinnedProjects)
}

// Unpin removes a project from the pinned set.
func (s *Settings) Unpin(project string) {
	s.PinnedProjects = slices.DeleteFunc(s.PinnedProjects, func(p string) bool {
		return p == project
	})
}

// Store reads and writes Settings documents.
type Store struct {
	db     *bbolt.DB
	logger *slog.Logger
	now    func() time.Time
	noSync bool
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// WithNoSync disables fsync per transaction. For testing only.
func WithNoSync(noSync bool) StoreOption {
	return func(s *Store) {
		s.noSync = noSync
	}
}

// NewStore creates a Store with options. Call Open before use.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultPath returns the settings file location under the user's
// config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolving config dir: %w", err)
	}
	return filepath.Join(dir, "sequel", "settings.db"), nil
}

// Open opens the settings database at the given path, creating parent
// directories as needed.
func (s *Store) Open(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating settings dir: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
		NoSync:  s.noSync,
	})
	if err != nil {
		return fmt.Errorf("opening settings database: %w", err)
	}
	s.db = db

	err = s.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSettings)
		return err
	})
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("creating settings bucket: %w", err)
	}

	s.logger.Debug("opened settings store", "path", path)
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load reads the settings document. A missing document returns the
// zero value, not an error.
func (s *Store) Load() (*Settings, error) {
	settings := &Settings{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketSettings).Get(keyApp)
		if val == nil {
			return nil
		}
		return json.Unmarshal(val, settings)
	})
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	return settings, nil
}

// Save writes the settings document, stamping UpdatedAt.
func (s *Store) Save(settings *Settings) error {
	settings.UpdatedAt = s.now()

	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSettings).Put(keyApp, data)
	})
	if err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	return nil
}

// Update performs read-modify-write in a single transaction so
// concurrent updates cannot lose writes.
func (s *Store) Update(fn func(*Settings) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketSettings)

		settings := &Settings{}
		if val := bucket.Get(keyApp); val != nil {
			if err := json.Unmarshal(val, settings); err != nil {
				return fmt.Errorf("unmarshaling settings: %w", err)
			}
		}

		if err := fn(settings); err != nil {
			return err
		}
		settings.UpdatedAt = s.now()

		data, err := json.Marshal(settings)
		if err != nil {
			return fmt.Errorf("marshaling settings: %w", err)
		}
		return bucket.Put(keyApp, data)
	})
}
