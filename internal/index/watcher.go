package index

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce is the quiet period before a burst of payload events is reported.
const DefaultWatchDebounce = 500 * time.Millisecond

// ChangeCallback is invoked once per debounced burst of payload changes.
// changed holds the base names seen during the burst.
type ChangeCallback func(changed []string)

// WatchPayloads starts an fsnotify watcher on the payload directory and calls
// cb after a quiet period following file creates, writes, and renames. It
// returns when ctx is cancelled.
//
// The scheduler still polls on its own timer; the watcher only shortens the
// delay between a payload landing on disk and its resource being indexed.
func WatchPayloads(ctx context.Context, dir string, debounce time.Duration, logger *slog.Logger, cb ChangeCallback) error {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("dir", dir))

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
		changed = make(map[string]struct{})
	)

	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(debounce)
			timerCh = timer.C
		} else {
			timer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-timerCh:
			if len(changed) == 0 {
				continue
			}
			names := make([]string, 0, len(changed))
			for name := range changed {
				names = append(names, name)
			}
			clear(changed)
			logger.Debug("watcher: payloads changed", slog.Int("count", len(names)))
			if cb != nil {
				cb(names)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(ev.Name)
			// Skip our own atomic-write temp files and hidden files.
			if strings.HasPrefix(name, ".") {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			changed[name] = struct{}{}
			schedule()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
