package config

import (
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Watcher hot-reloads the tuning section of the config file. Only Tuning is
// re-applied at runtime; network and database settings require a restart.
type Watcher struct {
	path string

	mu     sync.RWMutex
	tuning Tuning

	onChange func(Tuning)
	fw       *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup
}

func NewWatcher(path string, initial Tuning, onChange func(Tuning)) *Watcher {
	return &Watcher{
		path:     path,
		tuning:   initial,
		onChange: onChange,
		done:     make(chan struct{}),
	}
}

// Tuning returns the current tunables snapshot.
func (w *Watcher) Tuning() Tuning {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tuning
}

// Start begins watching the config file's directory. Editors replace files
// rather than write in place, so the directory is watched and events filtered
// by name.
func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fw = fw

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return err
	}

	w.wg.Add(1)
	go w.loop()
	return nil
}

func (w *Watcher) Stop() {
	close(w.done)
	if w.fw != nil {
		w.fw.Close()
	}
	w.wg.Wait()
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			log.Printf("[WARNING] Config watcher: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		log.Printf("[WARNING] Config reload: read failed: %v", err)
		return
	}

	var cfg struct {
		Tuning Tuning `yaml:"tuning"`
	}
	// Start from current values so a partial tuning block keeps the rest.
	cfg.Tuning = w.Tuning()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		log.Printf("[WARNING] Config reload: parse failed, keeping previous tuning: %v", err)
		return
	}
	if cfg.Tuning.HazardClear <= 0 || cfg.Tuning.DetectionWindow <= 0 {
		log.Printf("[WARNING] Config reload: rejected non-positive durations")
		return
	}

	w.mu.Lock()
	w.tuning = cfg.Tuning
	w.mu.Unlock()

	log.Printf("[INFO] Config reloaded: hazard_clear=%s detection_window=%s",
		cfg.Tuning.HazardClear, cfg.Tuning.DetectionWindow)
	if w.onChange != nil {
		w.onChange(cfg.Tuning)
	}
}
