package timer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/SAP-F-2025/tryout-runtime/internal/models"
	"github.com/SAP-F-2025/tryout-runtime/internal/oneshot"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultTickInterval      = time.Second
	DefaultCriticalThreshold = 5 * time.Minute

	LoadingText = "--:--"
	ExpiredText = "00:00"
)

type Color string

const (
	ColorDefault  Color = "default"
	ColorCritical Color = "orange"
	ColorExpired  Color = "red"
	ColorMuted    Color = "muted"
)

type Segments struct {
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
	Seconds int `json:"seconds"`
}

// Snapshot is the display state derived on every tick.
type Snapshot struct {
	RemainingMs   int64    `json:"remainingMs"`
	FormattedTime string   `json:"formattedTime"`
	Segments      Segments `json:"timeSegments"`
	IsCritical    bool     `json:"isCritical"`
	IsExpired     bool     `json:"isExpired"`
	IsLoading     bool     `json:"isLoading"`
	TimeColor     Color    `json:"timeColor"`
}

type Options struct {
	StartedAt       time.Time
	DurationSeconds int
	// ServerRemaining seeds the first render when positive.
	ServerRemaining time.Duration

	// OnCritical and OnExpire run on the tick goroutine. They must not call
	// Stop; hand long work off to another goroutine.
	OnCritical func()
	OnExpire   func()

	Clock             clockwork.Clock
	TickInterval      time.Duration
	CriticalThreshold time.Duration
	Logger            *slog.Logger
}

// Countdown derives the remaining time of one exam attempt from its start
// timestamp and duration. Remaining time is recomputed from the clock on each
// tick, so a stalled tick source never accumulates drift.
type Countdown struct {
	clock             clockwork.Clock
	logger            *slog.Logger
	tickInterval      time.Duration
	criticalThreshold time.Duration
	onCritical        func()
	onExpire          func()

	mu              sync.Mutex
	startedAt       time.Time
	durationSeconds int
	seed            time.Duration
	snapshot        Snapshot
	ctx             context.Context
	cancel          context.CancelFunc
	started         bool
	ticking         bool
	stopped         bool
	wg              sync.WaitGroup

	critical oneshot.Latch
	expired  oneshot.Latch
}

func New(opts Options) *Countdown {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.CriticalThreshold <= 0 {
		opts.CriticalThreshold = DefaultCriticalThreshold
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Countdown{
		clock:             opts.Clock,
		logger:            opts.Logger,
		tickInterval:      opts.TickInterval,
		criticalThreshold: opts.CriticalThreshold,
		onCritical:        opts.OnCritical,
		onExpire:          opts.OnExpire,
		startedAt:         opts.StartedAt,
		durationSeconds:   opts.DurationSeconds,
		seed:              opts.ServerRemaining,
	}
	c.snapshot = c.initialSnapshotLocked()
	return c
}

// FromSession builds countdown options from a session-detail payload.
func FromSession(detail models.SessionDetail) Options {
	return Options{
		StartedAt:       detail.StartedAt,
		DurationSeconds: detail.DurationSeconds(),
		ServerRemaining: detail.ServerRemaining(),
	}
}

// Start schedules the periodic tick. A countdown still loading schedules
// nothing until Load supplies a valid duration. An attempt that is already
// expired fires OnExpire before Start returns.
func (c *Countdown) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started || c.stopped {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	if c.loadingLocked() {
		c.mu.Unlock()
		c.logger.Debug("Countdown waiting for session duration")
		return
	}
	c.startTickingLocked()
	snap := c.snapshot
	c.wg.Add(1)
	c.mu.Unlock()

	defer c.wg.Done()
	c.fireTransitions(snap)
}

// Load supplies the authoritative start time and duration once the session
// detail arrives. Leaving the loading state re-initializes the remaining time
// from the server seed (if positive) or the clock.
func (c *Countdown) Load(startedAt time.Time, durationSeconds int, serverRemaining time.Duration) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}

	wasLoading := c.loadingLocked()
	if !wasLoading {
		// start time is fixed for the lifetime of the attempt
		c.durationSeconds = durationSeconds
		if c.loadingLocked() {
			c.snapshot = loadingSnapshot()
		}
		c.mu.Unlock()
		return
	}

	c.startedAt = startedAt
	c.durationSeconds = durationSeconds
	c.seed = serverRemaining
	if c.loadingLocked() {
		c.mu.Unlock()
		return
	}
	c.snapshot = c.initialSnapshotLocked()
	if !c.started {
		c.mu.Unlock()
		return
	}
	if !c.ticking {
		c.startTickingLocked()
	}
	snap := c.snapshot
	c.wg.Add(1)
	c.mu.Unlock()

	defer c.wg.Done()
	c.fireTransitions(snap)
}

// Tick recomputes the remaining time from the clock and fires any pending
// transition. It is a no-op while loading or after Stop.
func (c *Countdown) Tick() Snapshot {
	c.mu.Lock()
	if c.stopped || c.loadingLocked() {
		snap := c.snapshot
		c.mu.Unlock()
		return snap
	}
	c.snapshot = c.render(c.remainingLocked())
	snap := c.snapshot
	c.wg.Add(1)
	c.mu.Unlock()

	defer c.wg.Done()
	c.fireTransitions(snap)
	return snap
}

func (c *Countdown) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// Stop cancels the periodic tick and waits for an in-flight tick to finish.
// No callback fires once Stop has returned.
func (c *Countdown) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	c.wg.Wait()
}

// Running reports whether a tick goroutine is currently scheduled.
func (c *Countdown) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticking
}

func (c *Countdown) String() string {
	snap := c.Snapshot()
	return fmt.Sprintf("countdown(%s, critical=%t, expired=%t)", snap.FormattedTime, snap.IsCritical, snap.IsExpired)
}

func (c *Countdown) startTickingLocked() {
	ticker := c.clock.NewTicker(c.tickInterval)
	c.ticking = true
	c.wg.Add(1)
	go c.run(c.ctx, ticker)
}

func (c *Countdown) run(ctx context.Context, ticker clockwork.Ticker) {
	defer c.wg.Done()
	defer func() {
		ticker.Stop()
		c.mu.Lock()
		c.ticking = false
		c.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.Tick()
		}
	}
}

func (c *Countdown) fireTransitions(snap Snapshot) {
	if snap.IsLoading {
		return
	}
	if snap.IsCritical {
		if c.critical.Fire(c.onCritical) {
			c.logger.Info("Countdown entered critical band", "remaining_ms", snap.RemainingMs)
		}
	}
	if snap.IsExpired {
		if c.expired.Fire(c.onExpire) {
			c.logger.Info("Countdown expired", "remaining_ms", snap.RemainingMs)
		}
	}
}

func (c *Countdown) loadingLocked() bool {
	return c.durationSeconds <= 0
}

func (c *Countdown) remainingLocked() time.Duration {
	end := c.startedAt.Add(time.Duration(c.durationSeconds) * time.Second)
	return end.Sub(c.clock.Now())
}

func (c *Countdown) initialSnapshotLocked() Snapshot {
	if c.loadingLocked() {
		return loadingSnapshot()
	}
	remaining := c.remainingLocked()
	if c.seed > 0 {
		remaining = c.seed
		c.seed = 0
	}
	return c.render(remaining)
}

func (c *Countdown) render(remaining time.Duration) Snapshot {
	if remaining <= 0 || c.expired.Fired() {
		return Snapshot{
			RemainingMs:   remaining.Milliseconds(),
			FormattedTime: ExpiredText,
			IsExpired:     true,
			TimeColor:     ColorExpired,
		}
	}

	segments := split(remaining)
	snap := Snapshot{
		RemainingMs:   remaining.Milliseconds(),
		FormattedTime: Format(remaining),
		Segments:      segments,
		TimeColor:     ColorDefault,
	}
	if remaining <= c.criticalThreshold {
		snap.IsCritical = true
		snap.TimeColor = ColorCritical
	}
	return snap
}

func loadingSnapshot() Snapshot {
	return Snapshot{
		RemainingMs:   math.MaxInt64,
		FormattedTime: LoadingText,
		IsLoading:     true,
		TimeColor:     ColorMuted,
	}
}

// Format renders a remaining duration as MM:SS, where MM counts total minutes.
func Format(remaining time.Duration) string {
	if remaining <= 0 {
		return ExpiredText
	}
	total := int64(remaining / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

func split(remaining time.Duration) Segments {
	total := int(remaining / time.Second)
	return Segments{
		Hours:   total / 3600,
		Minutes: (total % 3600) / 60,
		Seconds: total % 60,
	}
}
