package watch

import (
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/tsbuild/internal/logfields"
)

type fileStamp struct {
	mod  time.Time
	size int64
}

// Poller detects changes by periodically comparing modification times. It
// covers filesystems where change notifications are not delivered.
type Poller struct {
	filter    *Filter
	notify    func(path string)
	scheduler gocron.Scheduler
	logger    *slog.Logger

	mu       sync.Mutex
	snapshot map[string]fileStamp
}

// NewPoller takes an initial snapshot and schedules a scan every interval.
// The scheduler does not run until Start.
func NewPoller(filter *Filter, interval time.Duration, notify func(path string), logger *slog.Logger) (*Poller, error) {
	if interval <= 0 {
		return nil, ferrors.ValidationError("poll interval must be > 0").Build()
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryWatch, "create poll scheduler").Build()
	}

	if logger == nil {
		logger = slog.Default()
	}
	p := &Poller{filter: filter, notify: notify, scheduler: s, logger: logger}
	p.snapshot = p.scan()

	if _, err := s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(p.poll),
		gocron.WithName("watch-poll"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		_ = s.Shutdown()
		return nil, ferrors.WrapError(err, ferrors.CategoryWatch, "schedule poll job").Build()
	}
	return p, nil
}

func (p *Poller) Start() { p.scheduler.Start() }

func (p *Poller) Stop() error { return p.scheduler.Shutdown() }

// poll diffs a fresh scan against the previous snapshot and reports every
// created, modified or removed file.
func (p *Poller) poll() {
	next := p.scan()

	p.mu.Lock()
	prev := p.snapshot
	p.snapshot = next
	p.mu.Unlock()

	for path, stamp := range next {
		old, ok := prev[path]
		if !ok || !old.mod.Equal(stamp.mod) || old.size != stamp.size {
			p.notify(path)
		}
	}
	for path := range prev {
		if _, ok := next[path]; !ok {
			p.notify(path)
		}
	}
}

func (p *Poller) scan() map[string]fileStamp {
	out := make(map[string]fileStamp)
	root := p.filter.Root()
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && p.filter.IgnoredDir(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if p.filter.Ignored(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		out[path] = fileStamp{mod: info.ModTime(), size: info.Size()}
		return nil
	})
	if err != nil {
		p.logger.Warn("Poll scan failed", logfields.Path(root), logfields.Error(err))
	}
	return out
}
