package config

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// debounceWrite collapses the burst of events most editors/writers
// produce for a single logical save into one reload (grounded on the
// teacher's debounceEnvWrite knob in internal/config's watcher).
var debounceWrite = 250 * time.Millisecond

// Watcher reloads Config from its source file whenever it changes on
// disk, guarding the live pointer with Mu so readers never observe a
// partially-applied reload.
type Watcher struct {
	path   string
	cfg    *Config
	Mu     sync.RWMutex
	watch  *fsnotify.Watcher
	lastSum string
	done   chan struct{}

	OnReload func(*Config)
}

// NewWatcher starts watching path's containing directory (fsnotify
// watches directories more reliably than bare files across editors'
// save strategies — rename-then-replace loses the watch on the file
// itself) and applies reloads to cfg in place.
func NewWatcher(path string, cfg *Config) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}

	cw := &Watcher{path: path, cfg: cfg, watch: w, done: make(chan struct{})}
	if sum, err := checksum(path); err == nil {
		cw.lastSum = sum
	}

	go cw.loop()
	return cw, nil
}

func (w *Watcher) loop() {
	var timer *time.Timer
	for {
		select {
		case event, ok := <-w.watch.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceWrite, w.reload)
		case err, ok := <-w.watch.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("config watcher error")
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) reload() {
	sum, err := checksum(w.path)
	if err != nil {
		log.Warn().Err(err).Str("path", w.path).Msg("config reload: failed to checksum file")
		return
	}
	if sum == w.lastSum {
		return
	}

	next, err := Load(w.path)
	if err != nil {
		log.Warn().Err(err).Str("path", w.path).Msg("config reload: rejected invalid config, keeping previous")
		return
	}

	w.Mu.Lock()
	*w.cfg = *next
	w.lastSum = sum
	w.Mu.Unlock()

	log.Info().Str("path", w.path).Msg("configuration reloaded")
	if w.OnReload != nil {
		w.OnReload(next)
	}
}

// Stop ends the watch goroutine and releases the underlying fsnotify
// watcher.
func (w *Watcher) Stop() {
	close(w.done)
	w.watch.Close()
}

func checksum(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

