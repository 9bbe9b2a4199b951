package worker

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/undercity/undercity/internal/health"
	"github.com/undercity/undercity/internal/store"
)

// nudgeWatcher watches a workspace for health-monitor nudge files and
// surfaces them as feedback at the worker's next attempt boundary.
type nudgeWatcher struct {
	watcher *fsnotify.Watcher
	dir     string
	log     zerolog.Logger

	mu      sync.Mutex
	pending string
	done    chan struct{}
}

// watchNudges starts watching a workspace directory. A watcher that
// fails to start degrades to a no-op: nudges are then only seen by
// operators in the logs.
func watchNudges(dir string, log zerolog.Logger) *nudgeWatcher {
	nw := &nudgeWatcher{dir: dir, log: log, done: make(chan struct{})}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Msg("nudge watcher unavailable")
		return nw
	}
	if err := w.Add(dir); err != nil {
		log.Warn().Err(err).Msg("cannot watch workspace for nudges")
		_ = w.Close()
		return nw
	}
	nw.watcher = w
	go nw.loop()
	return nw
}

func (nw *nudgeWatcher) loop() {
	for {
		select {
		case <-nw.done:
			return
		case ev, ok := <-nw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != store.NudgeFileName {
				continue
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			nw.consume()
		case err, ok := <-nw.watcher.Errors:
			if !ok {
				return
			}
			nw.log.Warn().Err(err).Msg("nudge watcher error")
		}
	}
}

func (nw *nudgeWatcher) consume() {
	nudge, err := health.LoadNudge(nw.dir)
	if err != nil || nudge == nil {
		return
	}
	_ = health.ClearNudge(nw.dir)
	nw.log.Warn().Str("reason", nudge.Reason).Int("attempt", nudge.Attempt).
		Msg("health monitor nudge received")

	msg := "The health monitor flagged this worker as stalled (" + nudge.Reason + "). " +
		strings.TrimSpace(nudge.Message)
	nw.mu.Lock()
	nw.pending = msg
	nw.mu.Unlock()
}

// Take returns and clears the pending nudge message, if any.
func (nw *nudgeWatcher) Take() string {
	if nw == nil {
		return ""
	}
	nw.mu.Lock()
	defer nw.mu.Unlock()
	msg := nw.pending
	nw.pending = ""
	return msg
}

// Close stops the watcher. Safe on a degraded no-op watcher.
func (nw *nudgeWatcher) Close() {
	if nw == nil {
		return
	}
	close(nw.done)
	if nw.watcher != nil {
		_ = nw.watcher.Close()
	}
}
