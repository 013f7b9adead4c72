package kernel

import (
	"io"

	"github.com/minicoop/kernel/sched"
	"github.com/minicoop/kernel/transport"
)

// config holds resolved configuration for Bootstrap.
type config struct {
	schedConfig sched.Config
	clockTickMs int64
	xport       transport.Transport
	logWriter   io.Writer
}

// defaultConfig matches the defaults implied by spec.md §4 where it gives
// concrete numbers (the feedback-scheduler thresholds/quanta) and leaves
// the rest to the host (clock period, transport).
func defaultConfig() config {
	return config{
		schedConfig: sched.DefaultConfig(),
		clockTickMs: 10,
	}
}

// Option configures Bootstrap.
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (f optionFunc) apply(cfg *config) { f(cfg) }

// WithSchedulerConfig overrides the multi-level feedback scheduler's
// quanta and level-selection thresholds (spec.md §4.2).
func WithSchedulerConfig(sc sched.Config) Option {
	return optionFunc(func(cfg *config) { cfg.schedConfig = sc })
}

// WithClockTick sets the alarm/scheduler clock's tick period in
// milliseconds (spec.md §4.6 "periodic interrupt").
func WithClockTick(ms int64) Option {
	return optionFunc(func(cfg *config) { cfg.clockTickMs = ms })
}

// WithTransport supplies the packet transport the datagram and reliable
// socket layers share (spec.md §6). Required: Bootstrap returns
// ErrNoTransport without one.
func WithTransport(t transport.Transport) Option {
	return optionFunc(func(cfg *config) { cfg.xport = t })
}

// WithLogWriter installs a logger writing to w as klog's global logger,
// in place of the package default (os.Stderr). A UDP transport keeps the
// logger that was global when transport.ListenUDP created it, so its
// output does not move to w.
func WithLogWriter(w io.Writer) Option {
	return optionFunc(func(cfg *config) { cfg.logWriter = w })
}

func resolveOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.apply(&cfg)
	}
	return cfg
}
