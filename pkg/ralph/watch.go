package ralph

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces bursts of ticket file writes into one wake.
const DefaultDebounce = 250 * time.Millisecond

// WatchTickets returns a channel that receives after changes settle in dir
// (normally .tickets/). It returns nil when dir is missing or the watcher
// cannot start; the scheduler then just sleeps. The watcher stops with ctx.
func WatchTickets(ctx context.Context, dir string, debounce time.Duration) <-chan struct{} {
	if _, err := os.Stat(dir); err != nil {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("fsnotify: failed to create watcher: %v (falling back to sleeping)", err)
		return nil
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		log.Printf("fsnotify: failed to watch %s: %v (falling back to sleeping)", dir, err)
		return nil
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	wake := make(chan struct{}, 1)
	go func() {
		defer func() { _ = watcher.Close() }()
		timer := time.NewTimer(debounce)
		if !timer.Stop() {
			<-timer.C
		}
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				timer.Reset(debounce)
			case <-timer.C:
				select {
				case wake <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("fsnotify: watcher error: %v", err)
			}
		}
	}()
	return wake
}
