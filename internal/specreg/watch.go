package specreg

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"

	"specforge/internal/logging"
)

// Watch registers grammar files written to dir until ctx is cancelled. New
// versions become available immediately; the active version is unchanged.
func (r *Registry) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create grammar watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch grammar dir: %w", err)
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if !isGrammarFile(event.Name) {
					continue
				}
				if err := r.LoadFile(event.Name); err != nil {
					logging.WarnWithContext(r.logger, "grammar reload failed", "grammar_load_failed",
						logging.String("path", event.Name),
						logging.Error(err),
						logging.String(logging.FieldErrorHint, "fix the grammar file; the previous registry state is kept"),
					)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("grammar watcher error", logging.Error(err))
			}
		}
	}()
	return nil
}
