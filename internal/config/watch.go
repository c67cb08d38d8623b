package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/codefionn/wsrpc/internal/logger"
	"github.com/fsnotify/fsnotify"
)

// Environment variables that override config file values
const (
	EnvLogLevel = "WSRPC_LOG_LEVEL"
	EnvLogPath  = "WSRPC_LOG_PATH"
	EnvListen   = "WSRPC_LISTEN"
)

// ApplyEnv overrides logging and listen settings from the environment
func (c *Config) ApplyEnv() {
	if envLevel := strings.TrimSpace(os.Getenv(EnvLogLevel)); envLevel != "" {
		c.LogLevel = envLevel
	}
	if envPath := strings.TrimSpace(os.Getenv(EnvLogPath)); envPath != "" {
		c.LogPath = envPath
	}
	if envListen := strings.TrimSpace(os.Getenv(EnvListen)); envListen != "" {
		c.Listen = envListen
	}
}

// Watcher reloads a config file whenever it changes on disk
type Watcher struct {
	path      string
	watcher   *fsnotify.Watcher
	onChange  func(*Config)
	stopWatch chan struct{}
	done      chan struct{}
}

// Watch calls onChange with the reloaded config after every write to path.
// The parent directory is watched so editors that replace the file on save
// are picked up too. Files that fail to load are logged and skipped.
func Watch(path string, onChange func(*Config)) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		_ = watcher.Close()
		return nil, err
	}

	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	w := &Watcher{
		path:      absPath,
		watcher:   watcher,
		onChange:  onChange,
		stopWatch: make(chan struct{}),
		done:      make(chan struct{}),
	}
	go w.watchFiles()
	return w, nil
}

// Close stops watching
func (w *Watcher) Close() error {
	close(w.stopWatch)
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher) watchFiles() {
	defer close(w.done)
	for {
		select {
		case <-w.stopWatch:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				logger.Warn("config reload of %s failed: %v", w.path, err)
				continue
			}
			cfg.ApplyEnv()
			logger.Debug("config reloaded from %s", w.path)
			w.onChange(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Error("config watcher error: %v", err)
		}
	}
}
