package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"ncpgateway/internal/gwerrors"
	"ncpgateway/internal/processlock"
)

// AddServerResult is the tri-state outcome of Store.AddServer, mirroring the
// spec's "ok | AlreadyExists | Invalid" contract without resorting to a
// sentinel string.
type AddServerResult int

const (
	AddServerOK AddServerResult = iota
	AddServerAlreadyExists
	AddServerInvalid
)

// Store is the Profile Store (§4.1): load/save named profiles, with atomic
// writes, dangerous-command validation, and an advisory in-process lock
// guarding concurrent writers. Grounded on the teacher's
// internal/config/config_loader.go atomic-write pattern, generalized from a
// single global Config to many named Profile documents.
type Store struct {
	paths  *Paths
	logger *zap.Logger
	lock   *processlock.ProcessLock

	mu       sync.RWMutex
	watchers map[string]*fsnotify.Watcher
}

// NewStore constructs a Store rooted at paths. It does not touch disk.
func NewStore(paths *Paths, logger *zap.Logger) *Store {
	return &Store{
		paths:    paths,
		logger:   logger,
		lock:     processlock.New(paths.Root, logger),
		watchers: map[string]*fsnotify.Watcher{},
	}
}

// GetProfile loads the named profile. An unreadable or malformed profile
// file is non-fatal: it logs a warning and returns a fresh empty profile,
// per the Profile Store's failure behavior.
func (s *Store) GetProfile(name string) *Profile {
	path := s.paths.ProfileFile(name)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read profile file, presenting empty profile",
				zap.String("profile", name), zap.Error(err))
		}
		return NewProfile(name, "")
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		s.logger.Warn("malformed profile file, presenting empty profile",
			zap.String("profile", name), zap.Error(err))
		return NewProfile(name, "")
	}
	return &p
}

// CreateProfile creates (or overwrites, if absent-only semantics aren't
// desired by the caller) an empty named profile and persists it.
func (s *Store) CreateProfile(name, description string) (*Profile, error) {
	p := NewProfile(name, description)
	if err := s.save(p); err != nil {
		return nil, err
	}
	return p, nil
}

// ListProfiles returns every profile name with a persisted document.
func (s *Store) ListProfiles() ([]string, error) {
	entries, err := os.ReadDir(s.paths.ProfilesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	return names, nil
}

// GetDefaultProfileName returns the profile selected by NCP_PROFILE (or its
// default), independent of whether that profile exists on disk yet.
func (s *Store) GetDefaultProfileName() string {
	return ProfileNameFromEnv()
}

// AddServer validates cfg and, if valid and not already present, persists it
// into the named profile atomically. Returns AddServerInvalid with the
// validation error rather than ever persisting a rejected config (§4.1,
// config.validation is never persisted).
func (s *Store) AddServer(profileName, serverName string, cfg ServerConfig) (AddServerResult, error) {
	if err := cfg.Validate(); err != nil {
		return AddServerInvalid, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Acquire(); err != nil {
		return AddServerInvalid, gwerrors.Wrap(gwerrors.ConfigInvalid, "acquiring profile lock", err)
	}
	defer s.lock.Release()

	p := s.GetProfile(profileName)
	if _, exists := p.Servers[serverName]; exists {
		return AddServerAlreadyExists, nil
	}

	p.Servers[serverName] = cfg
	if err := s.save(p); err != nil {
		return AddServerInvalid, err
	}
	return AddServerOK, nil
}

// RemoveServer removes serverName from the named profile, if present, and
// persists the result atomically. Removing an absent server is a no-op.
func (s *Store) RemoveServer(profileName, serverName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Acquire(); err != nil {
		return gwerrors.Wrap(gwerrors.ConfigInvalid, "acquiring profile lock", err)
	}
	defer s.lock.Release()

	p := s.GetProfile(profileName)
	delete(p.Servers, serverName)
	return s.save(p)
}

// save writes p to disk via temp-file-then-rename, the same atomicity
// pattern as the teacher's UpdateConfigAtomic.
func (s *Store) save(p *Profile) error {
	if err := os.MkdirAll(s.paths.ProfilesDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create profiles directory: %w", err)
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	finalPath := s.paths.ProfileFile(p.Name)
	tempPath := finalPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp profile file: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename profile file: %w", err)
	}

	s.logger.Debug("profile saved", zap.String("profile", p.Name), zap.String("path", finalPath))
	return nil
}

// Watch starts an optional fsnotify watch on the named profile's file,
// invoking onChange whenever it is modified by another process. Mirrors the
// teacher's config_loader.go watchLoop, generalized to a per-profile watch.
func (s *Store) Watch(profileName string, onChange func(*Profile)) (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	path := s.paths.ProfileFile(profileName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		watcher.Close()
		return nil, err
	}
	// fsnotify can only watch an existing path; ensure the file exists.
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.save(NewProfile(profileName, "")); err != nil {
			watcher.Close()
			return nil, err
		}
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch profile file: %w", err)
	}

	s.mu.Lock()
	s.watchers[profileName] = watcher
	s.mu.Unlock()

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write {
					onChange(s.GetProfile(profileName))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Error("profile watcher error", zap.Error(err))
			}
		}
	}()

	stop := func() error {
		s.mu.Lock()
		delete(s.watchers, profileName)
		s.mu.Unlock()
		return watcher.Close()
	}
	return stop, nil
}
