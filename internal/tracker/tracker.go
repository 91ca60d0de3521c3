// Package tracker follows one scan at a time through its lifecycle: it starts
// the scan, polls the job service on a ticker and reports progress, terminal
// states and result refreshes to subscribers.
//
// All state lives behind a single mutex. Every poller carries the generation
// it was started for; a response that arrives for a poller that is no longer
// current is dropped without touching state.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/lotuswatch/internal/eventbus"
	"github.com/bl4ck0w1/lotuswatch/internal/jobclient"
	"github.com/bl4ck0w1/lotuswatch/pkg/models"
	"github.com/bl4ck0w1/lotuswatch/pkg/utils"
)

const (
	DefaultPollInterval = time.Second
	DefaultRefreshDelay = 2 * time.Second
)

var (
	ErrEmptyTarget = errors.New("target is required")
	ErrSuperseded  = errors.New("scan start superseded by a newer request")
	ErrClosed      = errors.New("tracker is closed")
)

// JobService is the subset of the job service client the tracker drives.
type JobService interface {
	Create(ctx context.Context, req jobclient.CreateRequest) (models.ScanHandle, error)
	Query(ctx context.Context, id string) (models.ScanStatus, error)
	Stop(ctx context.Context, id string) error
}

type Notifier interface {
	Emit(text string, severity models.Severity) models.Notification
}

type Options struct {
	ScanType   models.ScanType
	ScriptPath string
}

type Config struct {
	PollInterval time.Duration
	RefreshDelay time.Duration
	Clock        clockwork.Clock
	Logger       *logrus.Logger
	Metrics      *utils.MetricsCollector
}

type EventType string

const (
	EventStarted        EventType = "started"
	EventProgress       EventType = "progress"
	EventTerminal       EventType = "terminal"
	EventRefreshResults EventType = "refresh_results"
)

// Event is published outside the tracker lock. Status.Progress carries the
// displayed (clamped, non-decreasing) value.
type Event struct {
	Type   EventType
	Handle models.ScanHandle
	State  State
	Status models.ScanStatus
}

type Snapshot struct {
	State     State
	Handle    models.ScanHandle
	ScanState models.ScanState
	Progress  int
	Message   string
	LastError error
	UpdatedAt time.Time
}

type poller struct {
	gen    uint64
	cancel context.CancelFunc
	ticker clockwork.Ticker
	done   chan struct{}
}

type Tracker struct {
	svc      JobService
	notifier Notifier
	clock    clockwork.Clock
	logger   *logrus.Logger
	metrics  *utils.MetricsCollector
	interval time.Duration
	delay    time.Duration
	bus      *eventbus.Bus[Event]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	active atomic.Int32

	mu        sync.Mutex
	gen       uint64
	state     State
	handle    models.ScanHandle
	scanState models.ScanState
	progress  int
	message   string
	lastErr   error
	updatedAt time.Time
	poller    *poller
	refresh   clockwork.Timer
	closed    bool
}

// New builds an idle tracker. notifier may be nil.
func New(svc JobService, notifier Notifier, cfg Config) *Tracker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.RefreshDelay < 0 {
		cfg.RefreshDelay = DefaultRefreshDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		svc:       svc,
		notifier:  notifier,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		interval:  cfg.PollInterval,
		delay:     cfg.RefreshDelay,
		bus:       eventbus.New[Event](cfg.Logger),
		ctx:       ctx,
		cancel:    cancel,
		state:     StateIdle,
		updatedAt: cfg.Clock.Now(),
	}
	t.metrics.SetGauge(utils.MetricTrackerState, 1, prometheus.Labels{"state": StateIdle.String()})
	return t
}

// Subscribe registers fn for lifecycle events. Handlers run on the tracker's
// goroutines and must not call Start or Close synchronously.
func (t *Tracker) Subscribe(fn func(Event)) func() {
	return t.bus.Subscribe(fn)
}

// Start creates a scan for target and begins polling it. Any scan already
// being followed is abandoned first: its poller is cancelled and has exited
// before the create request is sent.
func (t *Tracker) Start(ctx context.Context, target string, opts Options) (models.ScanHandle, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		t.emit("Please enter a target", models.SeverityError)
		return models.ScanHandle{}, ErrEmptyTarget
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return models.ScanHandle{}, ErrClosed
	}
	old := t.detachPollerLocked()
	t.stopRefreshLocked()
	t.gen++
	gen := t.gen
	t.setStateLocked(StateStarting)
	t.handle = models.ScanHandle{}
	t.scanState = ""
	t.progress = 0
	t.message = ""
	t.lastErr = nil
	t.mu.Unlock()

	if old != nil {
		<-old.done
	}

	handle, err := t.svc.Create(ctx, jobclient.CreateRequest{
		Target:     target,
		ScanType:   opts.ScanType,
		ScriptPath: opts.ScriptPath,
	})

	t.mu.Lock()
	if t.closed || t.gen != gen {
		t.mu.Unlock()
		t.logger.Debugf("Discarding create result for %s, superseded by a newer start", target)
		return models.ScanHandle{}, ErrSuperseded
	}
	if err != nil {
		t.lastErr = err
		t.setStateLocked(StateIdle)
		t.mu.Unlock()

		t.metrics.IncCounter(utils.MetricScansStarted, 1, prometheus.Labels{"scan_type": opts.ScanType.String(), "outcome": "error"})
		t.logger.WithError(err).Errorf("Failed to start scan for %s", target)
		t.emit(startFailureText(err), models.SeverityError)
		return models.ScanHandle{}, fmt.Errorf("start scan: %w", err)
	}

	t.handle = handle
	t.setStateLocked(StatePolling)
	t.startPollerLocked(gen, handle)
	t.mu.Unlock()

	t.metrics.IncCounter(utils.MetricScansStarted, 1, prometheus.Labels{"scan_type": handle.ScanType.String(), "outcome": "ok"})
	t.logger.WithField("scan_id", handle.ID).Infof("Scan started for %s", target)
	t.emit("Scan started: "+handle.ID, models.SeveritySuccess)
	t.bus.Publish(Event{Type: EventStarted, Handle: handle, State: StatePolling})
	return handle, nil
}

func startFailureText(err error) string {
	var rej *jobclient.BackendRejection
	if errors.As(err, &rej) {
		if rej.Message != "" {
			return rej.Message
		}
		return "Failed to start scan"
	}
	return "Error starting scan: " + err.Error()
}

// StopCurrent asks the job service to stop the tracked scan. The tracker does
// not change state itself; the stop shows up through the next poll.
func (t *Tracker) StopCurrent(ctx context.Context) error {
	t.mu.Lock()
	h := t.handle
	t.mu.Unlock()

	if h.IsZero() {
		t.logger.Debug("No scan to stop")
		return nil
	}

	if err := t.svc.Stop(ctx, h.ID); err != nil {
		t.logger.WithError(err).WithField("scan_id", h.ID).Error("Failed to stop scan")
		t.emit("Failed to stop scan", models.SeverityError)
		return fmt.Errorf("stop scan %s: %w", h.ID, err)
	}
	t.logger.WithField("scan_id", h.ID).Info("Stop requested")
	t.emit("Scan stopped", models.SeverityInfo)
	return nil
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		State:     t.state,
		Handle:    t.handle,
		ScanState: t.scanState,
		Progress:  t.progress,
		Message:   t.message,
		LastError: t.lastErr,
		UpdatedAt: t.updatedAt,
	}
}

// ActivePollers reports how many poller goroutines are running. It is never
// more than one.
func (t *Tracker) ActivePollers() int {
	return int(t.active.Load())
}

// Close stops polling, cancels a pending refresh and waits for the poller to
// exit. Further calls are no-ops.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.gen++
	t.detachPollerLocked()
	t.stopRefreshLocked()
	t.mu.Unlock()

	t.cancel()
	t.wg.Wait()
}

func (t *Tracker) startPollerLocked(gen uint64, handle models.ScanHandle) {
	ctx, cancel := context.WithCancel(t.ctx)
	p := &poller{
		gen:    gen,
		cancel: cancel,
		ticker: t.clock.NewTicker(t.interval),
		done:   make(chan struct{}),
	}
	t.poller = p

	t.wg.Add(1)
	t.active.Add(1)
	go t.run(ctx, p, handle)
}

func (t *Tracker) detachPollerLocked() *poller {
	p := t.poller
	if p == nil {
		return nil
	}
	t.poller = nil
	p.ticker.Stop()
	p.cancel()
	return p
}

func (t *Tracker) stopRefreshLocked() {
	if t.refresh != nil {
		t.refresh.Stop()
		t.refresh = nil
	}
}

func (t *Tracker) run(ctx context.Context, p *poller, handle models.ScanHandle) {
	defer func() {
		t.active.Add(-1)
		close(p.done)
		t.wg.Done()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.ticker.Chan():
			if !t.poll(ctx, p, handle) {
				return
			}
		}
	}
}

// poll runs one status query and applies it. It returns false once the poller
// should exit.
func (t *Tracker) poll(ctx context.Context, p *poller, handle models.ScanHandle) bool {
	log := t.logger.WithField("scan_id", handle.ID)
	status, err := t.svc.Query(ctx, handle.ID)

	t.mu.Lock()
	if t.poller != p || t.gen != p.gen {
		t.mu.Unlock()
		t.metrics.IncCounter(utils.MetricPollsTotal, 1, prometheus.Labels{"outcome": "stale"})
		log.Debug("Discarding status for a scan that is no longer tracked")
		return false
	}

	switch {
	case errors.Is(err, jobclient.ErrNotFound):
		t.mu.Unlock()
		t.metrics.IncCounter(utils.MetricPollsTotal, 1, prometheus.Labels{"outcome": "not_found"})
		log.Debug("Scan not known to the job service yet")
		return true
	case err != nil:
		t.lastErr = err
		t.mu.Unlock()
		t.metrics.IncCounter(utils.MetricPollsTotal, 1, prometheus.Labels{"outcome": "error"})
		log.WithError(err).Warn("Polling scan status failed")
		return true
	}
	t.metrics.IncCounter(utils.MetricPollsTotal, 1, prometheus.Labels{"outcome": "ok"})

	progress := models.ClampProgress(status.Progress)
	if progress < t.progress {
		log.Debugf("Progress went back from %d to %d, keeping %d", t.progress, status.Progress, t.progress)
		progress = t.progress
	}
	status.Progress = progress
	t.progress = progress
	t.message = status.Message
	t.scanState = status.State
	t.lastErr = nil
	t.updatedAt = t.clock.Now()

	if !status.State.IsTerminal() {
		t.mu.Unlock()
		t.bus.Publish(Event{Type: EventProgress, Handle: handle, State: StatePolling, Status: status})
		return true
	}

	next := terminalStateFor(status.State)
	t.setStateLocked(next)
	t.detachPollerLocked()
	refreshNow := t.delay <= 0
	if !refreshNow {
		gen := t.gen
		t.refresh = t.clock.AfterFunc(t.delay, func() { t.fireRefresh(gen, handle) })
	}
	t.mu.Unlock()

	t.metrics.IncCounter(utils.MetricScansFinished, 1, prometheus.Labels{"state": next.String()})
	log.Infof("Scan %s", status.State)

	severity := models.SeverityInfo
	if next == StateCompleted {
		severity = models.SeveritySuccess
	}
	t.emit(fmt.Sprintf("Scan %s!", status.State), severity)
	t.bus.Publish(Event{Type: EventTerminal, Handle: handle, State: next, Status: status})

	if refreshNow {
		t.bus.Publish(Event{Type: EventRefreshResults, Handle: handle, State: next, Status: status})
	}
	return false
}

func (t *Tracker) fireRefresh(gen uint64, handle models.ScanHandle) {
	t.mu.Lock()
	if t.closed || t.gen != gen {
		t.mu.Unlock()
		return
	}
	t.refresh = nil
	state := t.state
	status := models.ScanStatus{ID: handle.ID, Progress: t.progress, Message: t.message, State: t.scanState}
	t.mu.Unlock()

	t.bus.Publish(Event{Type: EventRefreshResults, Handle: handle, State: state, Status: status})
}

func (t *Tracker) setStateLocked(next State) {
	if err := t.state.ValidateTransition(next); err != nil {
		t.logger.Error(err)
		return
	}
	t.metrics.SetGauge(utils.MetricTrackerState, 0, prometheus.Labels{"state": t.state.String()})
	t.metrics.SetGauge(utils.MetricTrackerState, 1, prometheus.Labels{"state": next.String()})
	t.state = next
	t.updatedAt = t.clock.Now()
}

func (t *Tracker) emit(text string, severity models.Severity) {
	if t.notifier != nil {
		t.notifier.Emit(text, severity)
	}
}
