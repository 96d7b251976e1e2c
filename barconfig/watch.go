package barconfig

import (
	"github.com/fsnotify/fsnotify"

	"github.com/ausocean/utils/logging"

	"github.com/iasaudio/bar/barerr"
)

// Watcher re-parses a configuration file whenever it changes on disk and
// publishes the new Config on Changed. It is an opt-in surface: a caller
// that only wants the "parsed once" behaviour should use Load instead and
// never construct a Watcher.
type Watcher struct {
	path    string
	l       logging.Logger
	fsw     *fsnotify.Watcher
	changed chan *Config
	done    chan struct{}
}

// Watch starts watching path for writes, parsing it once immediately and
// again on every subsequent write event. The returned Watcher must be
// closed with Close when no longer needed.
func Watch(path string, l logging.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, barerr.Wrap(barerr.InitFailed, "barconfig.Watch", err)
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, barerr.Wrap(barerr.InitFailed, "barconfig.Watch", err)
	}

	w := &Watcher{
		path:    path,
		l:       l,
		fsw:     fsw,
		changed: make(chan *Config, 1),
		done:    make(chan struct{}),
	}

	go w.run()
	return w, nil
}

// Changed delivers a freshly parsed Config after every write to the
// watched file. The channel is buffered to depth 1 and only ever holds
// the most recent parse: a reader that falls behind sees the latest
// config, not a backlog of every intermediate edit.
func (w *Watcher) Changed() <-chan *Config {
	return w.changed
}

// Close stops watching and releases the underlying OS resources.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

func (w *Watcher) run() {
	w.reload()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				w.reload()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if w.l != nil {
				w.l.Error("barconfig: watch error", "path", w.path, "error", err.Error())
			}
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadFrom(w.path, w.l)
	if err != nil {
		if w.l != nil {
			w.l.Error("barconfig: reload failed", "path", w.path, "error", err.Error())
		}
		return
	}
	select {
	case <-w.changed:
	default:
	}
	w.changed <- cfg
}
