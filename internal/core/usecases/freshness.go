package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"

	"github.com/samirrijal/roadreport/internal/core/domain"
	"github.com/samirrijal/roadreport/internal/core/heatmap"
	"github.com/samirrijal/roadreport/internal/core/ports"
	"github.com/samirrijal/roadreport/internal/pkg/metrics"
)

// ErrSubscriptionClosed is returned by commands issued after Unsubscribe.
var ErrSubscriptionClosed = errors.New("heatmap subscription closed")

// Default refresh timings.
const (
	DefaultPollInterval   = 90 * time.Second
	DefaultDebounceWindow = 5 * time.Second
)

// Aggregator produces unweighted cells for a viewport.
type Aggregator interface {
	Aggregate(ctx context.Context, q domain.HeatmapQuery) ([]domain.HeatmapCell, error)
}

// Trigger names what caused a delivery.
type Trigger string

const (
	TriggerInitial      Trigger = "initial"
	TriggerPoll         Trigger = "poll"
	TriggerViewport     Trigger = "viewport"
	TriggerManual       Trigger = "manual"
	TriggerNotification Trigger = "notification"
	// TriggerActivity marks a re-delivery of cached cells; no fetch happens.
	TriggerActivity Trigger = "activity"
)

// SubscriptionState is the coordinator's scheduling state.
type SubscriptionState int32

const (
	StateIdle SubscriptionState = iota
	StatePolling
	StateDebouncing
	StateClosed
)

func (s SubscriptionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateDebouncing:
		return "debouncing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("SubscriptionState(%d)", int32(s))
}

// Update is handed to the subscriber's deliver callback. Exactly one of
// Cells or Err is meaningful. A failed refresh leaves previously delivered
// cells valid.
type Update struct {
	Seq      uint64
	Trigger  Trigger
	Query    domain.HeatmapQuery
	Activity domain.ActivityType
	Cells    []domain.HeatmapCell
	Err      error
}

// FreshnessConfig tunes a FreshnessCoordinator. Zero values take defaults.
type FreshnessConfig struct {
	PollInterval   time.Duration
	DebounceWindow time.Duration
	Clock          clock.Clock
	Logger         *slog.Logger
}

// FreshnessCoordinator decides when a viewport's heatmap is recomputed:
// on a poll interval, on viewport or manual triggers, and after a debounced
// burst of report-inserted notifications.
type FreshnessCoordinator struct {
	agg      Aggregator
	notifier ports.ReportNotifier
	cfg      FreshnessConfig
}

// NewFreshnessCoordinator creates a coordinator. notifier may be nil, in
// which case subscriptions refresh by polling only.
func NewFreshnessCoordinator(agg Aggregator, notifier ports.ReportNotifier, cfg FreshnessConfig) *FreshnessCoordinator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = DefaultDebounceWindow
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Logger = cfg.Logger.With("component", "freshness")
	return &FreshnessCoordinator{agg: agg, notifier: notifier, cfg: cfg}
}

type commandKind int

const (
	cmdViewport commandKind = iota
	cmdActivity
	cmdSubmitted
)

type command struct {
	kind     commandKind
	query    domain.HeatmapQuery
	activity domain.ActivityType
	ack      chan struct{}
}

type fetchResult struct {
	seq     uint64
	trigger Trigger
	query   domain.HeatmapQuery
	cells   []domain.HeatmapCell
	err     error
}

// Subscription is one live viewport. All scheduling state is owned by a
// single goroutine; the exported methods talk to it over channels.
//
// deliver runs on that goroutine. It must not call back into the
// Subscription.
type Subscription struct {
	id      string
	coord   *FreshnessCoordinator
	deliver func(Update)
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	cmds    chan command
	signals chan struct{}
	results chan fetchResult
	stop    chan struct{}
	done    chan struct{}

	stopOnce  sync.Once
	detach    func() error
	detachErr error
	state     atomic.Int32

	// Owned by run.
	query       domain.HeatmapQuery
	activity    domain.ActivityType
	seq         uint64
	accepted    uint64
	hasAccepted bool
	lastRaw     []domain.HeatmapCell
	lastQuery   domain.HeatmapQuery
	poll        *clock.Timer
	debounce    *clock.Timer
}

// Subscribe validates q, attaches to the notification source, issues the
// initial aggregation and arms the poll timer. Cancelling ctx tears the
// subscription down like Unsubscribe.
func (c *FreshnessCoordinator) Subscribe(ctx context.Context, q domain.HeatmapQuery, activity domain.ActivityType, deliver func(Update)) (*Subscription, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if !activity.Valid() {
		return nil, fmt.Errorf("%w: unknown activity %q", domain.ErrInvalidQuery, activity)
	}
	if deliver == nil {
		return nil, errors.New("subscribe: nil deliver callback")
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		id:       uuid.NewString(),
		coord:    c,
		deliver:  deliver,
		ctx:      ctx,
		cancel:   cancel,
		cmds:     make(chan command),
		signals:  make(chan struct{}, 1),
		results:  make(chan fetchResult),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		query:    q,
		activity: activity,
	}
	s.logger = c.cfg.Logger.With("subscription", s.id)

	if c.notifier != nil {
		detach, err := c.notifier.SubscribeReportInserted(ctx, s.signal)
		if err != nil {
			// Polling still keeps the map fresh.
			s.logger.Warn("report notifications unavailable, polling only", "error", err)
		} else {
			s.detach = detach
		}
	}

	s.fetch(TriggerInitial)
	s.armPoll()
	s.syncState()
	metrics.ActiveSubscriptions.Inc()

	go s.run()
	return s, nil
}

// ID identifies the subscription in logs.
func (s *Subscription) ID() string { return s.id }

// State returns the current scheduling state.
func (s *Subscription) State() SubscriptionState {
	return SubscriptionState(s.state.Load())
}

// UpdateViewport replaces the viewport and refreshes immediately. The poll
// interval restarts from now.
func (s *Subscription) UpdateViewport(q domain.HeatmapQuery) error {
	if err := q.Validate(); err != nil {
		return err
	}
	return s.send(command{kind: cmdViewport, query: q})
}

// UpdateActivity switches the reweighting activity. The last accepted cells
// are re-delivered under their original sequence number; nothing is fetched.
func (s *Subscription) UpdateActivity(a domain.ActivityType) error {
	if !a.Valid() {
		return fmt.Errorf("%w: unknown activity %q", domain.ErrInvalidQuery, a)
	}
	return s.send(command{kind: cmdActivity, activity: a})
}

// NotifySubmitted refreshes immediately, as after the user submits a report.
func (s *Subscription) NotifySubmitted() error {
	return s.send(command{kind: cmdSubmitted})
}

// Unsubscribe stops both timers, detaches from notifications and cancels
// in-flight fetches. It returns once no further deliver call can happen.
// Safe to call more than once.
func (s *Subscription) Unsubscribe() error {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	return s.detachErr
}

func (s *Subscription) send(cmd command) error {
	cmd.ack = make(chan struct{}, 1)
	select {
	case s.cmds <- cmd:
	case <-s.done:
		return ErrSubscriptionClosed
	}
	select {
	case <-cmd.ack:
		return nil
	case <-s.done:
		select {
		case <-cmd.ack:
			return nil
		default:
			return ErrSubscriptionClosed
		}
	}
}

// signal is the notifier callback. It never blocks: a pending signal
// already covers any later ones.
func (s *Subscription) signal() {
	select {
	case s.signals <- struct{}{}:
	default:
	}
}

func (s *Subscription) run() {
	defer s.teardown()

	for {
		var pollC, debounceC <-chan time.Time
		if s.poll != nil {
			pollC = s.poll.C
		}
		if s.debounce != nil {
			debounceC = s.debounce.C
		}

		select {
		case <-s.stop:
			return
		case <-s.ctx.Done():
			return
		case cmd := <-s.cmds:
			s.handle(cmd)
			cmd.ack <- struct{}{}
		case <-s.signals:
			stopTimer(&s.debounce)
			s.debounce = s.coord.cfg.Clock.Timer(s.coord.cfg.DebounceWindow)
		case <-pollC:
			s.poll = nil
			s.fetch(TriggerPoll)
			s.armPoll()
		case <-debounceC:
			s.debounce = nil
			s.refresh(TriggerNotification)
		case res := <-s.results:
			s.accept(res)
		}
		s.syncState()
	}
}

func (s *Subscription) teardown() {
	stopTimer(&s.poll)
	stopTimer(&s.debounce)
	s.cancel()
	if s.detach != nil {
		s.detachErr = s.detach()
	}
	s.state.Store(int32(StateClosed))
	metrics.ActiveSubscriptions.Dec()
	close(s.done)
}

func (s *Subscription) handle(cmd command) {
	switch cmd.kind {
	case cmdViewport:
		s.query = cmd.query
		s.refresh(TriggerViewport)
	case cmdSubmitted:
		s.refresh(TriggerManual)
	case cmdActivity:
		s.activity = cmd.activity
		if s.hasAccepted {
			s.deliver(Update{
				Seq:      s.accepted,
				Trigger:  TriggerActivity,
				Query:    s.lastQuery,
				Activity: s.activity,
				Cells:    heatmap.ReweightAll(s.lastRaw, s.activity),
			})
		}
	}
}

// refresh fetches now and restarts the poll interval.
func (s *Subscription) refresh(t Trigger) {
	stopTimer(&s.poll)
	s.fetch(t)
	s.armPoll()
}

// fetch starts an aggregation for the current viewport under a new sequence
// number. It does not wait for earlier fetches.
func (s *Subscription) fetch(t Trigger) {
	s.seq++
	seq, q := s.seq, s.query
	metrics.Aggregations.WithLabelValues(string(t)).Inc()

	go func() {
		cells, err := s.coord.agg.Aggregate(s.ctx, q)
		select {
		case s.results <- fetchResult{seq: seq, trigger: t, query: q, cells: cells, err: err}:
		case <-s.done:
		}
	}()
}

func (s *Subscription) accept(r fetchResult) {
	if r.seq < s.accepted {
		metrics.StaleResultsDiscarded.Inc()
		s.logger.Debug("discarding stale heatmap result", "seq", r.seq, "accepted", s.accepted)
		return
	}

	if r.err != nil {
		s.logger.Warn("heatmap refresh failed", "seq", r.seq, "trigger", r.trigger, "error", r.err)
		s.deliver(Update{Seq: r.seq, Trigger: r.trigger, Query: r.query, Activity: s.activity, Err: r.err})
		return
	}

	s.accepted = r.seq
	s.hasAccepted = true
	s.lastRaw = r.cells
	s.lastQuery = r.query
	s.deliver(Update{
		Seq:      r.seq,
		Trigger:  r.trigger,
		Query:    r.query,
		Activity: s.activity,
		Cells:    heatmap.ReweightAll(r.cells, s.activity),
	})
}

func (s *Subscription) armPoll() {
	stopTimer(&s.poll)
	s.poll = s.coord.cfg.Clock.Timer(s.coord.cfg.PollInterval)
}

func (s *Subscription) syncState() {
	st := StatePolling
	if s.debounce != nil {
		st = StateDebouncing
	}
	s.state.Store(int32(st))
}

func stopTimer(t **clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
