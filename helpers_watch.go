// dcdcomplete/helpers_watch.go
// Live reload of the configuration file.
package dcdcomplete

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchConfigFile reloads the TOML file at path whenever it is written or
// replaced and applies it through UpdateConfig. The parent directory is
// watched so editors that save by rename are picked up. onChange, if not nil,
// is called with each applied configuration. Watching stops when ctx is done
// or the Completer is closed.
func (c *Completer) WatchConfigFile(ctx context.Context, path string, onChange func(Config)) error {
	if path == "" {
		return fmt.Errorf("%w: empty config path to watch", ErrConfig)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: creating config watcher: %w", ErrConfig, err)
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("%w: watching %s: %w", ErrConfig, dir, err)
	}

	c.watchMu.Lock()
	if c.watcher != nil {
		c.watchMu.Unlock()
		watcher.Close()
		return errors.New("config watcher already running")
	}
	c.watcher = watcher
	c.watchMu.Unlock()

	watchLogger := c.logger.With("operation", "WatchConfigFile", "path", path)
	watchLogger.Info("Watching configuration file for changes")

	target := filepath.Clean(path)
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				watchLogger.Debug("Config file event", "op", event.Op.String())
				c.reloadConfigFile(path, onChange)

			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				watchLogger.Warn("Config watcher error", "error", werr)

			case <-ctx.Done():
				watchLogger.Debug("Config watcher stopping")
				c.watchMu.Lock()
				if c.watcher == watcher {
					c.watcher = nil
				}
				c.watchMu.Unlock()
				watcher.Close()
				return
			}
		}
	}()
	return nil
}

// reloadConfigFile applies the file at path on top of the defaults. Files that
// are missing or fail to parse leave the active configuration unchanged.
func (c *Completer) reloadConfigFile(path string, onChange func(Config)) {
	cfg := getDefaultConfig()
	loaded, err := LoadAndMergeConfig(path, &cfg, c.logger)
	if err != nil {
		c.logger.Warn("Ignoring unreadable config change", "path", path, "error", err)
		return
	}
	if !loaded {
		return
	}
	if err := c.UpdateConfig(cfg); err != nil {
		c.logger.Warn("Ignoring invalid config change", "path", path, "error", err)
		return
	}
	c.logger.Info("Configuration reloaded from file", "path", path)
	if onChange != nil {
		onChange(c.GetCurrentConfig())
	}
}
