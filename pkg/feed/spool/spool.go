// Package spool reads change events from files dropped into a directory.
//
// Every "*.pb" file holds one encoded ChangeEvent. Files are delivered in
// lexical name order, one at a time; once handled a file is moved to
// processed/ or, if it was rejected, to rejected/. The directory is
// watched with fsnotify and rescanned after a short debounce.
package spool

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"mercator-hq/rules/pkg/config"
	"mercator-hq/rules/pkg/feed"
)

// Subdirectories for handled files.
const (
	ProcessedDir = "processed"
	RejectedDir  = "rejected"
)

// Ext is the extension of event files.
const Ext = ".pb"

// Source watches a spool directory.
type Source struct {
	dir      string
	debounce time.Duration
	logger   *slog.Logger
}

// New creates a source for cfg. Zero-valued settings take their defaults.
func New(cfg *config.SpoolConfig, logger *slog.Logger) *Source {
	c := config.SpoolConfig{}
	if cfg != nil {
		c = *cfg
	}
	if c.Path == "" {
		c.Path = config.DefaultSpoolPath
	}
	if c.Debounce <= 0 {
		c.Debounce = config.DefaultSpoolDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{dir: c.Path, debounce: c.Debounce, logger: logger.With("spool", c.Path)}
}

// Dir returns the watched directory.
func (s *Source) Dir() string {
	return s.dir
}

// Messages creates the spool directories, starts the watcher and
// delivers files already present. The channel closes when ctx is done.
func (s *Source) Messages(ctx context.Context) (<-chan feed.Message, error) {
	for _, d := range []string{s.dir, filepath.Join(s.dir, ProcessedDir), filepath.Join(s.dir, RejectedDir)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create spool directory: %w", err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create spool watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", s.dir, err)
	}

	out := make(chan feed.Message)
	go s.run(ctx, watcher, out)
	return out, nil
}

func (s *Source) run(ctx context.Context, watcher *fsnotify.Watcher, out chan<- feed.Message) {
	defer close(out)
	defer watcher.Close()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !isEventFile(ev.Name) || !ev.Has(fsnotify.Create|fsnotify.Write|fsnotify.Rename) {
				continue
			}
			timer.Reset(s.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("spool watcher error", "error", err)

		case <-timer.C:
			if !s.drain(ctx, out) {
				return
			}
		}
	}
}

// drain delivers every pending file in order and waits for each to be
// acked before sending the next. It returns false if ctx ended.
func (s *Source) drain(ctx context.Context, out chan<- feed.Message) bool {
	names, err := s.Pending()
	if err != nil {
		s.logger.Warn("failed to list spool", "error", err)
		return true
	}

	for _, name := range names {
		path := filepath.Join(s.dir, name)
		payload, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				s.logger.Warn("failed to read spool file", "file", name, "error", err)
			}
			continue
		}

		done := make(chan struct{})
		msg := feed.Message{
			Payload: payload,
			Offset:  name,
			Ack: func(_ context.Context, result error) error {
				defer close(done)
				return s.settle(name, result)
			},
		}

		select {
		case out <- msg:
		case <-ctx.Done():
			return false
		}
		select {
		case <-done:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// settle moves a handled file out of the spool.
func (s *Source) settle(name string, result error) error {
	sub := ProcessedDir
	if result != nil {
		sub = RejectedDir
	}
	if err := os.Rename(filepath.Join(s.dir, name), filepath.Join(s.dir, sub, name)); err != nil {
		return fmt.Errorf("move %s to %s: %w", name, sub, err)
	}
	return nil
}

// Pending returns the names of event files waiting in the spool, in
// delivery order.
func (s *Source) Pending() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && isEventFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

func isEventFile(name string) bool {
	return strings.HasSuffix(name, Ext) && !strings.HasPrefix(filepath.Base(name), ".")
}

// WriteEvent encodes e into dir/name.pb. The file is written under a
// temporary name and renamed so the watcher never sees a partial file.
func WriteEvent(dir, name string, e feed.Event) (string, error) {
	b, err := feed.Marshal(e)
	if err != nil {
		return "", err
	}
	if !strings.HasSuffix(name, Ext) {
		name += Ext
	}
	tmp, err := os.CreateTemp(dir, ".spool-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return path, nil
}

// FileName returns a sortable event file name for seq.
func FileName(seq uint64) string {
	return fmt.Sprintf("%020d%s", seq, Ext)
}

// Publisher drops events into a spool directory. File names follow a
// nanosecond clock, strictly increasing per publisher, so a single
// publisher's events are delivered in publish order.
type Publisher struct {
	dir string
	now func() time.Time

	mu   sync.Mutex
	last uint64
}

// NewPublisher creates a publisher writing into dir.
func NewPublisher(dir string) *Publisher {
	if dir == "" {
		dir = config.DefaultSpoolPath
	}
	return &Publisher{dir: dir, now: time.Now}
}

// Publish writes e as the next event file.
func (p *Publisher) Publish(ctx context.Context, e feed.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("create spool directory: %w", err)
	}

	p.mu.Lock()
	next := uint64(p.now().UnixNano())
	if next <= p.last {
		next = p.last + 1
	}
	p.last = next
	p.mu.Unlock()

	if _, err := WriteEvent(p.dir, FileName(next), e); err != nil {
		return fmt.Errorf("write %s event: %w", e.Type, err)
	}
	return nil
}

var (
	_ feed.Source    = (*Source)(nil)
	_ feed.Publisher = (*Publisher)(nil)
)
