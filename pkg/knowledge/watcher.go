package knowledge

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// SeedWatcher watches the seed-document directory and triggers re-ingest
// when markdown files change.
type SeedWatcher struct {
	watcher  *fsnotify.Watcher
	logger   zerolog.Logger
	onChange func()
	debounce time.Duration
	timer    *time.Timer
	stopCh   chan struct{}
}

// NewSeedWatcher creates a watcher that fires onChange, debounced, after
// markdown files in a watched directory are created, written, or removed.
func NewSeedWatcher(logger zerolog.Logger, onChange func()) (*SeedWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	sw := &SeedWatcher{
		watcher:  watcher,
		logger:   logger,
		onChange: onChange,
		debounce: 500 * time.Millisecond,
		stopCh:   make(chan struct{}),
	}

	go sw.run()

	return sw, nil
}

// Watch starts watching a directory
func (sw *SeedWatcher) Watch(path string) error {
	return sw.watcher.Add(path)
}

// Stop stops the watcher
func (sw *SeedWatcher) Stop() error {
	close(sw.stopCh)
	return sw.watcher.Close()
}

// run processes file system events
func (sw *SeedWatcher) run() {
	for {
		select {
		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}

			if !strings.HasSuffix(strings.ToLower(event.Name), ".md") {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) {
				sw.logger.Debug().
					Str("file", filepath.Base(event.Name)).
					Str("op", event.Op.String()).
					Msg("Seed document change detected")

				sw.scheduleChange()
			}

		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			sw.logger.Error().Err(err).Msg("Seed watcher error")

		case <-sw.stopCh:
			return
		}
	}
}

// scheduleChange debounces the change callback
func (sw *SeedWatcher) scheduleChange() {
	if sw.timer != nil {
		sw.timer.Stop()
	}

	sw.timer = time.AfterFunc(sw.debounce, func() {
		sw.logger.Debug().Msg("Re-ingesting seed documents after changes")
		sw.onChange()
	})
}
