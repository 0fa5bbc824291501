package config

import (
	"context"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "remindd/pkg/logx"
)

const (
	reloadDebounce  = 250 * time.Millisecond
	validateTimeout = 5 * time.Second
	watchBackoffMin = 250 * time.Millisecond
	watchBackoffMax = 5 * time.Second
)

// Watch reloads the file on change until ctx is done. Parse or validation
// failures keep the previous config. The fsnotify watcher is recreated
// with jittered backoff whenever it breaks.
func (m *ConfigManager) Watch(ctx context.Context) error {
	if m.path == "" {
		<-ctx.Done()
		return nil
	}

	r := &reloader{m: m, ctx: ctx}
	defer r.stop()

	dir, file := filepath.Dir(m.path), filepath.Base(m.path)
	log := m.log.With(logx.String("dir", dir), logx.String("file", file))
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	backoff := watchBackoffMin

	for ctx.Err() == nil {
		w, err := fsnotify.NewWatcher()
		if err == nil {
			if err = w.Add(dir); err != nil {
				_ = w.Close()
			}
		}
		if err == nil {
			backoff = watchBackoffMin
			log.Debug("config watcher started")
			m.drain(ctx, w, file, r.schedule)
			_ = w.Close()
		} else {
			log.Warn("config watch setup failed", logx.Err(err))
		}
		if ctx.Err() != nil {
			break
		}

		var wait time.Duration
		wait, backoff = nextBackoff(rng, backoff, watchBackoffMax)
		log.Warn("config watcher restarting", logx.Duration("backoff", wait))
		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
	}
	return nil
}

// drain consumes watcher events until ctx ends or the watcher breaks.
func (m *ConfigManager) drain(ctx context.Context, w *fsnotify.Watcher, file string, changed func()) {
	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			// Editors often save via rename, so match on the base name.
			if strings.EqualFold(filepath.Base(ev.Name), file) && ev.Op&relevant != 0 {
				changed()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			if err == nil {
				continue
			}
			msg := strings.ToLower(err.Error())
			switch {
			case strings.Contains(msg, "overflow"):
				// Events were lost; re-read once.
				m.log.Warn("config watch overflow; forcing reload", logx.Err(err))
				changed()
			case strings.Contains(msg, "closed"):
				return
			default:
				m.log.Warn("config watch error", logx.Err(err))
			}
		}
	}
}

// reloader coalesces bursts of file events into one reload.
type reloader struct {
	m   *ConfigManager
	ctx context.Context

	mu    sync.Mutex
	timer *time.Timer
}

func (r *reloader) schedule() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(reloadDebounce, r.reload)
}

func (r *reloader) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
}

func (r *reloader) reload() {
	m := r.m
	log := m.log.With(logx.String("path", m.path))

	cfg, err := m.Parse()
	if err != nil {
		log.Warn("config parse failed; keeping previous", logx.Err(err))
		return
	}
	h := hashConfig(cfg)
	if m.unchanged(h) {
		log.Debug("config content unchanged")
		return
	}
	if m.validate != nil {
		ctx, cancel := context.WithTimeout(r.ctx, validateTimeout)
		err := m.validate(ctx, cfg)
		cancel()
		if err != nil {
			log.Warn("config rejected; keeping previous", logx.Err(err))
			return
		}
	}
	m.Commit(cfg)
	m.publish(cfg)
	log.Info("config reloaded", logx.Int64("hash", int64(h)))
}

// nextBackoff returns the jittered wait for cur and the doubled, capped
// backoff for the following attempt.
func nextBackoff(rng *rand.Rand, cur, limit time.Duration) (wait, next time.Duration) {
	wait = cur + time.Duration(rng.Int63n(int64(cur/2)+1))
	return wait, min(cur*2, limit)
}
