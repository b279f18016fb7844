// Package notify publishes a message per finished compile cycle.
package notify

import (
	"context"
	"sync"

	"git.home.luguber.info/inful/tsbuild/internal/config"
	"git.home.luguber.info/inful/tsbuild/internal/events"
	"git.home.luguber.info/inful/tsbuild/internal/logfields"
	"git.home.luguber.info/inful/tsbuild/internal/notify"
	"git.home.luguber.info/inful/tsbuild/internal/plugin"
	"git.home.luguber.info/inful/tsbuild/internal/session"
)

const Name = "notify"

type Options struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
	Stream  string `mapstructure:"stream"`

	// Dial replaces the NATS connection in tests.
	Dial func(ctx context.Context, cfg config.NotifyConfig) (notify.Publisher, error) `mapstructure:"-"`
}

func Factory(raw map[string]any) (session.Plugin, error) {
	var opts Options
	if err := config.DecodeOptions(Name, raw, &opts); err != nil {
		return nil, err
	}
	return New(opts), nil
}

func New(opts Options) session.Plugin {
	return func(_ context.Context, s *session.Session) (*plugin.Activated, error) {
		cfg := s.Config().Notify
		if opts.URL != "" {
			cfg.URL = opts.URL
		}
		if opts.Subject != "" {
			cfg.Subject = opts.Subject
		}
		if opts.Stream != "" {
			cfg.Stream = opts.Stream
		}
		if cfg.URL == "" {
			return nil, nil
		}
		if cfg.Subject == "" {
			cfg.Subject = config.DefaultNotifySubject
		}
		dial := opts.Dial
		if dial == nil {
			dial = func(ctx context.Context, cfg config.NotifyConfig) (notify.Publisher, error) {
				return notify.NewNATSClient(ctx, cfg)
			}
		}
		n := &notifier{
			cfg:      cfg,
			dial:     dial,
			bus:      s.Bus(),
			project:  s.Repository.Name,
			revision: s.Repository.Revision,
			session:  s,
		}
		return &plugin.Activated{
			Name:       Name,
			Initialise: n.connect,
			Terminate:  n.close,
		}, nil
	}
}

type notifier struct {
	cfg      config.NotifyConfig
	dial     func(context.Context, config.NotifyConfig) (notify.Publisher, error)
	bus      *events.Bus
	project  string
	revision string
	session  *session.Session

	mu   sync.Mutex
	pub  notify.Publisher
	ctx  context.Context
	stop func()
}

func (n *notifier) connect(ctx context.Context) error {
	pub, err := n.dial(ctx, n.cfg)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.pub = pub
	n.ctx = context.WithoutCancel(ctx)
	n.mu.Unlock()
	n.stop = events.Listen(n.bus, 8, n.publish)
	return nil
}

// publish failures never fail a build.
func (n *notifier) publish(e events.CycleFinished) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.pub == nil {
		return
	}
	data, err := notify.Encode(notify.NewMessage(e, n.project, n.revision))
	if err == nil {
		err = n.pub.Publish(n.ctx, n.cfg.Subject, data)
	}
	if err != nil {
		n.session.Logger().Warn("Failed to publish cycle notification",
			logfields.CycleID(e.ID),
			logfields.Error(err))
	}
}

func (n *notifier) close(context.Context) error {
	if n.stop != nil {
		n.stop()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.pub == nil {
		return nil
	}
	err := n.pub.Close()
	n.pub = nil
	return err
}
