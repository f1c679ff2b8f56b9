// ABOUTME: Hot reload of the config file through fsnotify
// ABOUTME: Watches the parent directory so editor rename-and-replace saves are seen

package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config at path whenever it changes and hands the new
// value to onChange. Reload failures go to onError and keep the previous
// config. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, onChange func(*Config), onError func(error)) error {
	if path == "" {
		return fmt.Errorf("watch config: no config file")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	defer w.Close()

	clean := filepath.Clean(path)
	if err := w.Add(filepath.Dir(clean)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(clean), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != clean || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(clean)
			if err != nil {
				onError(err)
				continue
			}
			onChange(cfg)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			onError(err)
		}
	}
}
