package store

import (
	"log"

	"github.com/fsnotify/fsnotify"
)

// Watcher emits a signal whenever something under the store root changes
// on disk — a StateRecord write from another device, a DeviceRecord from a
// new instance. The bridge does not start one: the ingest loop wakes only
// on its own timers.
type Watcher struct {
	fsw    *fsnotify.Watcher
	Events chan struct{}
}

// WatchDevices starts watching the store root and its devices/ subdirectory.
// Callers select on Watcher.Events; a closed or erroring watcher simply stops
// emitting, which only costs the bridge some detection latency (§4.4 still
// bounds failover time on its own).
func WatchDevices(s *Store) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(s.root); err != nil {
		fsw.Close()
		return nil, err
	}
	devicesDir := s.path("devices")
	_ = fsw.Add(devicesDir) // best-effort: may not exist yet on first run

	w := &Watcher{fsw: fsw, Events: make(chan struct{}, 1)}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case _, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			select {
			case w.Events <- struct{}{}:
			default:
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("[store] watch error: %v", err)
		}
	}
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
