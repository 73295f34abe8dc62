package config

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"pitchgrid-bridge/internal/descriptor"
	"pitchgrid-bridge/internal/telemetry"
)

// debounceWindow coalesces the burst of events most editors/filesystems
// emit for a single logical save (temp-file write + rename) into one
// reload.
const debounceWindow = 150 * time.Millisecond

// Store holds the live Controller Descriptor catalog, loaded from a
// directory and kept current by a filesystem watcher. A descriptor
// already in use by a live connection is not hot-swapped; the catalog
// reflects the edit immediately but the coordinator only picks it up on
// the next connect().
type Store struct {
	dir    string
	logger *telemetry.Logger

	mu          sync.RWMutex
	descriptors map[string]*descriptor.Descriptor

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewStore loads every descriptor in dir and returns the store alongside
// any per-file load errors. Each error is also logged here when a logger
// is set; none is fatal.
func NewStore(dir string, logger *telemetry.Logger) (*Store, []error) {
	descs, errs := descriptor.LoadAll(dir)
	s := &Store{
		dir:         dir,
		logger:      logger,
		descriptors: descs,
	}
	for _, err := range errs {
		if logger != nil {
			logger.LogConfig(telemetry.LogLevelError, "descriptor load failed: "+err.Error(), nil)
		}
	}
	return s, errs
}

// All returns a snapshot of the current catalog, keyed by device name.
func (s *Store) All() map[string]*descriptor.Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*descriptor.Descriptor, len(s.descriptors))
	for k, v := range s.descriptors {
		out[k] = v
	}
	return out
}

// Get looks up one descriptor by device name.
func (s *Store) Get(name string) (*descriptor.Descriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.descriptors[name]
	return d, ok
}

// Watch starts a background goroutine watching the descriptor directory
// for writes, creates, and removes, debouncing bursts and reloading only
// the affected file. Call Close to stop it.
func (s *Store) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(s.dir); err != nil {
		w.Close()
		return err
	}
	s.watcher = w
	s.done = make(chan struct{})

	go s.watchLoop()
	return nil
}

func (s *Store) watchLoop() {
	pending := make(map[string]fsnotify.Op)
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !isDescriptorFile(ev.Name) {
				continue
			}
			pending[ev.Name] |= ev.Op
			timer.Reset(debounceWindow)
		case <-timer.C:
			for path, op := range pending {
				s.applyEvent(path, op)
			}
			pending = make(map[string]fsnotify.Op)
		case _, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// applyEvent resolves one coalesced path's accumulated op bits: a
// remove/rename with no trailing write (a genuine delete, not an editor's
// write-then-rename-into-place save) drops the path's descriptor from the
// catalog instead of attempting to reload a file that is no longer there.
func (s *Store) applyEvent(path string, op fsnotify.Op) {
	if op&(fsnotify.Write|fsnotify.Create) != 0 {
		s.reloadOne(path)
		return
	}
	if op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		s.removeOne(path)
	}
}

func (s *Store) reloadOne(path string) {
	d, err := descriptor.Load(path)
	if err != nil {
		if s.logger != nil {
			s.logger.LogConfig(telemetry.LogLevelError, "descriptor reload failed for "+path+": "+err.Error(), nil)
		}
		return
	}

	s.mu.Lock()
	s.descriptors[d.DeviceName] = d
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.LogConfig(telemetry.LogLevelInfo, "descriptor reloaded: "+d.DeviceName, nil)
	}
}

// removeOne drops the descriptor whose SourcePath matches path from the
// catalog. The device name is the catalog key, not the path, so this scans
// for it rather than looking it up directly.
func (s *Store) removeOne(path string) {
	s.mu.Lock()
	var name string
	for n, d := range s.descriptors {
		if d.SourcePath == path {
			name = n
			break
		}
	}
	if name != "" {
		delete(s.descriptors, name)
	}
	s.mu.Unlock()

	if name == "" {
		return
	}
	if s.logger != nil {
		s.logger.LogConfig(telemetry.LogLevelInfo, "descriptor removed: "+name, nil)
	}
}

func isDescriptorFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Close stops the watcher goroutine, if running.
func (s *Store) Close() error {
	if s.watcher == nil {
		return nil
	}
	close(s.done)
	return s.watcher.Close()
}
