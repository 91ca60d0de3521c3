// Package notify holds short-lived, user-facing notifications. Each one is
// removed on its own timer; nothing is persisted.
package notify

import (
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/lotuswatch/internal/eventbus"
	"github.com/bl4ck0w1/lotuswatch/pkg/models"
	"github.com/bl4ck0w1/lotuswatch/pkg/utils"
)

const DefaultDuration = 3 * time.Second

type EventType string

const (
	EventEmitted EventType = "emitted"
	EventExpired EventType = "expired"
)

type Event struct {
	Type         EventType
	Notification models.Notification
}

type Config struct {
	Duration time.Duration
	Clock    clockwork.Clock
	Logger   *logrus.Logger
	Metrics  *utils.MetricsCollector
}

type entry struct {
	n     models.Notification
	timer clockwork.Timer
}

type Sink struct {
	mu       sync.Mutex
	duration time.Duration
	clock    clockwork.Clock
	logger   *logrus.Logger
	metrics  *utils.MetricsCollector
	nextID   uint64
	active   []entry
	closed   bool
	bus      *eventbus.Bus[Event]
}

func NewSink(cfg Config) *Sink {
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultDuration
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Sink{
		duration: cfg.Duration,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		bus:      eventbus.New[Event](cfg.Logger),
	}
}

// Emit records a notification and schedules its removal. Unknown severities
// are shown as info. After Close the notification is returned but not kept.
func (s *Sink) Emit(text string, severity models.Severity) models.Notification {
	switch severity {
	case models.SeverityInfo, models.SeveritySuccess, models.SeverityError:
	default:
		severity = models.SeverityInfo
	}

	s.mu.Lock()
	s.nextID++
	n := models.Notification{
		ID:        s.nextID,
		Text:      strings.TrimSpace(text),
		Severity:  severity,
		CreatedAt: s.clock.Now(),
	}
	if s.closed {
		s.mu.Unlock()
		s.logger.Debugf("Notification sink closed, dropping %q", n.Text)
		return n
	}
	id := n.ID
	timer := s.clock.AfterFunc(s.duration, func() { s.expire(id) })
	s.active = append(s.active, entry{n: n, timer: timer})
	s.mu.Unlock()

	s.metrics.IncCounter(utils.MetricNotifications, 1, prometheus.Labels{"severity": severity.String()})
	s.logger.WithField("severity", severity).Debugf("Notification: %s", n.Text)
	s.bus.Publish(Event{Type: EventEmitted, Notification: n})
	return n
}

// Active returns the visible notifications, oldest first.
func (s *Sink) Active() []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Notification, 0, len(s.active))
	for _, e := range s.active {
		out = append(out, e.n)
	}
	return out
}

// Dismiss removes a notification before its timer fires.
func (s *Sink) Dismiss(id uint64) bool {
	s.mu.Lock()
	e, ok := s.removeLocked(id)
	s.mu.Unlock()
	if !ok {
		return false
	}
	e.timer.Stop()
	s.bus.Publish(Event{Type: EventExpired, Notification: e.n})
	return true
}

func (s *Sink) Subscribe(fn func(Event)) func() {
	return s.bus.Subscribe(fn)
}

// Close cancels pending expiries and drops every active notification.
// It is safe to call more than once.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, e := range s.active {
		e.timer.Stop()
	}
	s.active = nil
}

func (s *Sink) expire(id uint64) {
	s.mu.Lock()
	e, ok := s.removeLocked(id)
	s.mu.Unlock()
	if ok {
		s.bus.Publish(Event{Type: EventExpired, Notification: e.n})
	}
}

func (s *Sink) removeLocked(id uint64) (entry, bool) {
	for i, e := range s.active {
		if e.n.ID == id {
			s.active = append(s.active[:i:i], s.active[i+1:]...)
			return e, true
		}
	}
	return entry{}, false
}
