package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 200 * time.Millisecond

// ReloadEvent carries the result of re-reading config.yaml after an edit.
// Err is set when the new file was rejected; Config is then zero.
type ReloadEvent struct {
	Path   string
	Config Config
	Err    error
}

// Watcher reloads config.yaml when it changes. The home directory is
// watched, not the file, because editors often replace the file on save.
// Bursts of writes within the debounce window produce a single reload.
type Watcher struct {
	homeDir  string
	logger   *slog.Logger
	debounce time.Duration
	load     func() (Config, error)
	events   chan ReloadEvent
}

func NewWatcher(homeDir string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		homeDir:  homeDir,
		logger:   logger,
		debounce: defaultDebounce,
		load:     Load,
		events:   make(chan ReloadEvent, 4),
	}
}

// Events is closed once the watcher stops.
func (w *Watcher) Events() <-chan ReloadEvent {
	return w.events
}

// Start begins watching. The watcher stops when ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.homeDir); err != nil {
		_ = fsw.Close()
		return err
	}
	go w.loop(ctx, fsw, ConfigPath(w.homeDir))
	return nil
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher, target string) {
	defer fsw.Close()
	defer close(w.events)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			timer.Reset(w.debounce)
		case <-timer.C:
			cfg, err := w.load()
			if err != nil {
				w.logger.Warn("config reload failed", "path", target, "error", err)
				cfg = Config{}
			} else {
				w.logger.Info("config file changed", "path", target, "fingerprint", cfg.Fingerprint())
			}
			select {
			case w.events <- ReloadEvent{Path: target, Config: cfg, Err: err}:
			default:
				w.logger.Warn("config reload dropped; previous reload not yet applied")
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "error", err)
		}
	}
}
