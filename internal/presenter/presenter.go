// Package presenter renders tracker and notification events to a terminal.
package presenter

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/lotuswatch/internal/notify"
	"github.com/bl4ck0w1/lotuswatch/internal/tracker"
	"github.com/bl4ck0w1/lotuswatch/pkg/models"
)

const (
	DefaultBarWidth     = 30
	DefaultResultsLimit = 5
	refreshTimeout      = 10 * time.Second
)

type ResultsSource interface {
	ListResults(ctx context.Context, limit, offset int) (models.ResultPage, error)
}

type TrackerEvents interface {
	Subscribe(fn func(tracker.Event)) func()
}

type NotificationEvents interface {
	Subscribe(fn func(notify.Event)) func()
}

type Config struct {
	Out          io.Writer
	Quiet        bool
	BarWidth     int
	ResultsLimit int
	Logger       *logrus.Logger
}

type Presenter struct {
	results ResultsSource
	out     io.Writer
	quiet   bool
	width   int
	limit   int
	logger  *logrus.Logger

	mu        sync.Mutex
	ctx       context.Context
	barOpen   bool
	terminal  *tracker.Event
	unsubs    []func()
	done      chan struct{}
	closeDone sync.Once
}

// New returns a presenter. results may be nil, in which case a refresh only
// signals Done.
func New(results ResultsSource, cfg Config) *Presenter {
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.BarWidth <= 0 {
		cfg.BarWidth = DefaultBarWidth
	}
	if cfg.ResultsLimit <= 0 {
		cfg.ResultsLimit = DefaultResultsLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Presenter{
		results: results,
		out:     cfg.Out,
		quiet:   cfg.Quiet,
		width:   cfg.BarWidth,
		limit:   cfg.ResultsLimit,
		logger:  cfg.Logger,
		ctx:     context.Background(),
		done:    make(chan struct{}),
	}
}

// Attach subscribes to both event sources. Either may be nil. ctx bounds the
// results fetch triggered by a refresh.
func (p *Presenter) Attach(ctx context.Context, events TrackerEvents, notes NotificationEvents) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ctx != nil {
		p.ctx = ctx
	}
	if events != nil {
		p.unsubs = append(p.unsubs, events.Subscribe(p.HandleTrackerEvent))
	}
	if notes != nil {
		p.unsubs = append(p.unsubs, notes.Subscribe(p.HandleNotification))
	}
}

func (p *Presenter) Detach() {
	p.mu.Lock()
	unsubs := p.unsubs
	p.unsubs = nil
	p.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

// Done is closed once the results refresh that follows a terminal state has
// been rendered.
func (p *Presenter) Done() <-chan struct{} { return p.done }

// Terminal returns the terminal event seen, if any.
func (p *Presenter) Terminal() (tracker.Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.terminal == nil {
		return tracker.Event{}, false
	}
	return *p.terminal, true
}

func (p *Presenter) HandleTrackerEvent(e tracker.Event) {
	switch e.Type {
	case tracker.EventStarted:
		p.println(fmt.Sprintf("Tracking scan %s on %s (%s)", e.Handle.ID, e.Handle.Target, emptyIf(e.Handle.ScanType.String(), "osint")))
	case tracker.EventProgress:
		if p.quiet {
			return
		}
		p.mu.Lock()
		fmt.Fprintf(p.out, "\r%s", RenderBar(p.width, e.Status.Progress, e.Status.State.String(), e.Status.Message))
		p.barOpen = true
		p.mu.Unlock()
	case tracker.EventTerminal:
		p.mu.Lock()
		ev := e
		p.terminal = &ev
		if !p.quiet {
			fmt.Fprintf(p.out, "\r%s", RenderBar(p.width, e.Status.Progress, e.Status.State.String(), e.Status.Message))
			p.barOpen = true
		}
		p.mu.Unlock()
		p.println(fmt.Sprintf("Scan %s finished: %s", e.Handle.ID, e.State))
	case tracker.EventRefreshResults:
		p.refresh()
	}
}

func (p *Presenter) HandleNotification(e notify.Event) {
	if e.Type != notify.EventEmitted {
		return
	}
	p.println(fmt.Sprintf("%s %s", severityTag(e.Notification.Severity), e.Notification.Text))
}

func (p *Presenter) refresh() {
	defer p.closeDone.Do(func() { close(p.done) })
	if p.results == nil {
		return
	}

	p.mu.Lock()
	parent := p.ctx
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(parent, refreshTimeout)
	defer cancel()
	page, err := p.results.ListResults(ctx, p.limit, 0)
	if err != nil {
		p.logger.WithError(err).Warn("Failed to refresh results")
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeBarLocked()
	fmt.Fprintf(p.out, "\nRecent results (%d of %d):\n", len(page.Results), page.Total)
	RenderResults(p.out, page.Recent(p.limit))
}

func (p *Presenter) println(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeBarLocked()
	fmt.Fprintln(p.out, line)
}

func (p *Presenter) closeBarLocked() {
	if p.barOpen {
		fmt.Fprintln(p.out)
		p.barOpen = false
	}
}

// RenderBar draws "[=====     ] running 40% message".
func RenderBar(width, progress int, status, message string) string {
	if width <= 0 {
		width = DefaultBarWidth
	}
	progress = models.ClampProgress(progress)
	filled := progress * width / 100
	line := fmt.Sprintf("[%s%s] %s %d%%",
		strings.Repeat("=", filled),
		strings.Repeat(" ", width-filled),
		emptyIf(status, "pending"),
		progress,
	)
	if message != "" {
		line += " " + message
	}
	return line
}

func severityTag(s models.Severity) string {
	switch s {
	case models.SeveritySuccess:
		return "[+]"
	case models.SeverityError:
		return "[!]"
	default:
		return "[i]"
	}
}

func emptyIf(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
