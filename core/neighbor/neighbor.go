// Package neighbor implements a periodic neighbor-liveness check: it tracks
// when each neighbor was last heard from and, if activity checking is
// enabled, reports a neighbor as gone after it has been silent too long so
// the caller can treat it as a broken link.
//
// The reference ARA configuration defines
// neighbor_activity_check_interval_ms and max_neighbor_inactivity_ms but
// the original client never consumes them; this package is the consumer,
// feeding stale neighbors into the same broken-link path a transport would
// use for a detected disconnect.
package neighbor

import (
	"log/slog"
	"time"

	"github.com/ara-mesh/ara-go/core"
	"github.com/ara-mesh/ara-go/core/clock"
	"github.com/ara-mesh/ara-go/core/iface"
)

// Config controls how often liveness is checked and how long a neighbor
// may stay silent before being reported stale.
type Config struct {
	// CheckInterval is how often the monitor scans for stale neighbors.
	// Zero disables the monitor entirely.
	CheckInterval time.Duration
	// MaxInactivity is how long a neighbor may go unheard before it is
	// reported stale. Zero disables staleness checking (entries are
	// tracked but never evicted).
	MaxInactivity time.Duration
	Logger        *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// StaleListener is invoked once for each neighbor that has gone silent for
// longer than MaxInactivity.
type StaleListener func(neighborAddr core.Address, intf iface.NetworkInterface)

type neighborKey struct {
	addr core.Address
	intf iface.NetworkInterface
}

// Monitor tracks per-(neighbor, interface) last-seen times and periodically
// reports stale ones.
type Monitor struct {
	cfg      Config
	log      *slog.Logger
	clk      clock.Clock
	onStale  StaleListener
	lastSeen map[neighborKey]time.Duration
	timer    clock.Timer
}

// New creates a Monitor. onStale is called for every neighbor the monitor
// judges stale on a tick.
func New(cfg Config, clk clock.Clock, onStale StaleListener) *Monitor {
	cfg = cfg.withDefaults()
	return &Monitor{
		cfg:      cfg,
		log:      cfg.Logger.WithGroup("neighbor"),
		clk:      clk,
		onStale:  onStale,
		lastSeen: make(map[neighborKey]time.Duration),
	}
}

// Record notes that traffic was just heard from neighborAddr on intf.
func (m *Monitor) Record(neighborAddr core.Address, intf iface.NetworkInterface) {
	m.lastSeen[neighborKey{neighborAddr, intf}] = m.clk.Now()
}

// Forget removes all liveness tracking for a neighbor on a given interface,
// e.g. once it has already been reported stale and handled.
func (m *Monitor) Forget(neighborAddr core.Address, intf iface.NetworkInterface) {
	delete(m.lastSeen, neighborKey{neighborAddr, intf})
}

// Start arms the periodic check. A no-op if CheckInterval is zero.
func (m *Monitor) Start() {
	if m.cfg.CheckInterval <= 0 {
		return
	}
	m.timer = m.clk.NewTimer()
	m.timer.OnExpire(m.onTick)
	m.timer.Run(m.cfg.CheckInterval)
}

// Stop cancels the periodic check.
func (m *Monitor) Stop() {
	if m.timer != nil {
		m.timer.Interrupt()
	}
}

func (m *Monitor) onTick(clock.Timer) {
	if m.cfg.MaxInactivity > 0 {
		now := m.clk.Now()
		var stale []neighborKey
		for k, seen := range m.lastSeen {
			if now-seen > m.cfg.MaxInactivity {
				stale = append(stale, k)
			}
		}
		for _, k := range stale {
			delete(m.lastSeen, k)
			m.log.Info("neighbor inactive, reporting broken link", "neighbor", k.addr)
			m.onStale(k.addr, k.intf)
		}
	}
	m.timer.Run(m.cfg.CheckInterval)
}
