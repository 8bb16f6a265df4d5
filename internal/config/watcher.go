package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
)

// Watch monitors the config file and emits a freshly loaded Config on
// every write, so a long-lived console survives session token rotation.
// The channel closes when ctx is cancelled. Reload failures are logged
// and skipped; the previous config stays in effect.
func Watch(ctx context.Context, path string, log logr.Logger) (<-chan Config, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		fsw.Close()
		return nil, err
	}
	// Watch the directory: editors and rotation tooling replace the file,
	// which drops a watch on the file itself.
	if err := fsw.Add(filepath.Dir(absPath)); err != nil {
		fsw.Close()
		return nil, err
	}

	ch := make(chan Config, 1)

	go func() {
		defer close(ch)
		defer fsw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if event.Name != absPath {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				cfg, err := Load(absPath)
				if err != nil {
					log.Error(err, "failed to reload config", "path", absPath)
					continue
				}
				// Latest write wins: replace any undelivered reload.
				select {
				case <-ch:
				default:
				}
				ch <- cfg
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				log.Error(err, "config watcher error")
			}
		}
	}()

	return ch, nil
}
