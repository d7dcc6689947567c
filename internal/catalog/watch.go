package catalog

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

const watchDebounceInterval = 250 * time.Millisecond

// Watch invalidates the catalogue cache whenever the account file or a
// slot auth file under dir changes. Events are debounced so a burst of
// writes triggers a single rescan.
func (c *Catalog) Watch(ctx context.Context, dir string) {
	if dir == "" {
		return
	}
	c.watchOnce.Do(func() {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			log.WithError(err).Warn("catalog: failed to start file watcher")
			return
		}
		if err := watcher.Add(dir); err != nil {
			log.WithError(err).Warnf("catalog: failed to watch %s", dir)
			_ = watcher.Close()
			return
		}
		go c.invalidateLoop(ctx)
		go c.watchLoop(ctx, watcher)
		log.Infof("catalog: watching %s for changes", dir)
	})
}

func (c *Catalog) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()
	for {
		select {
		case evt, ok := <-watcher.Events:
			if !ok {
				return
			}
			if shouldInvalidateForEvent(evt.Name) {
				c.requestInvalidate()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("catalog watcher error")
		case <-ctx.Done():
			return
		}
	}
}

func (c *Catalog) invalidateLoop(ctx context.Context) {
	var timer *time.Timer
	var timerCh <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-c.reloadCh:
			if timer == nil {
				timer = time.NewTimer(watchDebounceInterval)
				timerCh = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(watchDebounceInterval)
			}
		case <-timerCh:
			c.Invalidate()
			timerCh = nil
			timer.Stop()
			timer = nil
		}
	}
}

func (c *Catalog) requestInvalidate() {
	select {
	case c.reloadCh <- struct{}{}:
	default:
	}
}

func shouldInvalidateForEvent(name string) bool {
	if name == "" {
		return true
	}
	base := strings.ToLower(filepath.Base(name))
	if strings.HasSuffix(base, ".lock") || strings.HasSuffix(base, ".tmp") {
		return false
	}
	return strings.HasSuffix(base, ".json")
}
