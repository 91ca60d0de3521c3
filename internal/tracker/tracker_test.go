package tracker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/bl4ck0w1/lotuswatch/internal/jobclient"
	"github.com/bl4ck0w1/lotuswatch/pkg/models"
	"github.com/bl4ck0w1/lotuswatch/pkg/utils"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

type mockJobService struct {
	mock.Mock
	queries atomic.Int32
}

func (m *mockJobService) Create(ctx context.Context, req jobclient.CreateRequest) (models.ScanHandle, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(models.ScanHandle), args.Error(1)
}

func (m *mockJobService) Query(ctx context.Context, id string) (models.ScanStatus, error) {
	m.queries.Add(1)
	args := m.Called(ctx, id)
	return args.Get(0).(models.ScanStatus), args.Error(1)
}

func (m *mockJobService) Stop(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type recordingNotifier struct {
	mu  sync.Mutex
	got []models.Notification
}

func (r *recordingNotifier) Emit(text string, severity models.Severity) models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := models.Notification{ID: uint64(len(r.got) + 1), Text: text, Severity: severity}
	r.got = append(r.got, n)
	return n
}

func (r *recordingNotifier) all() []models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Notification(nil), r.got...)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *eventRecorder) has(typ EventType) bool {
	for _, got := range r.types() {
		if got == typ {
			return true
		}
	}
	return false
}

type fixture struct {
	svc    *mockJobService
	notes  *recordingNotifier
	events *eventRecorder
	clock  *clockwork.FakeClock
	tr     *Tracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		svc:    new(mockJobService),
		notes:  new(recordingNotifier),
		events: new(eventRecorder),
		clock:  clockwork.NewFakeClock(),
	}
	f.tr = New(f.svc, f.notes, Config{
		PollInterval: time.Second,
		RefreshDelay: 2 * time.Second,
		Clock:        f.clock,
		Logger:       utils.DiscardLogger(),
	})
	f.tr.Subscribe(f.events.record)
	t.Cleanup(f.tr.Close)
	return f
}

func (f *fixture) expectCreate(target, id string) {
	f.svc.On("Create", mock.Anything, mock.MatchedBy(func(r jobclient.CreateRequest) bool { return r.Target == target })).
		Return(models.ScanHandle{ID: id, Target: target, ScanType: models.ScanTypeOSINT}, nil).Once()
}

func (f *fixture) expectQuery(id string, state models.ScanState, progress int, msg string) {
	f.svc.On("Query", mock.Anything, id).
		Return(models.ScanStatus{ID: id, Progress: progress, Message: msg, State: state}, nil).Once()
}

// advance moves the clock one poll interval and waits until the poller has
// issued query number want.
func (f *fixture) advance(t *testing.T, want int32) {
	t.Helper()
	f.clock.Advance(time.Second)
	require.Eventually(t, func() bool { return f.svc.queries.Load() >= want }, waitFor, tick)
}

func (f *fixture) waitState(t *testing.T, s State) {
	t.Helper()
	require.Eventually(t, func() bool { return f.tr.Snapshot().State == s }, waitFor, tick)
}

// waitEvent waits until an event of typ has been published. Terminal events
// are published after the matching notification.
func (f *fixture) waitEvent(t *testing.T, typ EventType) {
	t.Helper()
	require.Eventually(t, func() bool { return f.events.has(typ) }, waitFor, tick)
}

func TestStart_EmptyTarget(t *testing.T) {
	f := newFixture(t)

	_, err := f.tr.Start(context.Background(), "   ", Options{})
	assert.ErrorIs(t, err, ErrEmptyTarget)
	assert.Equal(t, StateIdle, f.tr.Snapshot().State)
	f.svc.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)

	notes := f.notes.all()
	require.Len(t, notes, 1)
	assert.Equal(t, models.SeverityError, notes[0].Severity)
}

func TestStart_RunningThenCompleted(t *testing.T) {
	f := newFixture(t)
	f.expectCreate("example.com", "abc123")
	f.expectQuery("abc123", models.ScanStateRunning, 40, "scanning")
	f.expectQuery("abc123", models.ScanStateCompleted, 100, "done")

	h, err := f.tr.Start(context.Background(), " example.com ", Options{ScanType: models.ScanTypeOSINT})
	require.NoError(t, err)
	assert.Equal(t, "abc123", h.ID)
	assert.Equal(t, StatePolling, f.tr.Snapshot().State)
	assert.Equal(t, 1, f.tr.ActivePollers())

	f.advance(t, 1)
	require.Eventually(t, func() bool { return f.tr.Snapshot().Progress == 40 }, waitFor, tick)
	assert.Equal(t, "scanning", f.tr.Snapshot().Message)

	f.advance(t, 2)
	f.waitState(t, StateCompleted)
	f.waitEvent(t, EventTerminal)
	require.Eventually(t, func() bool { return f.tr.ActivePollers() == 0 }, waitFor, tick)

	snap := f.tr.Snapshot()
	assert.Equal(t, 100, snap.Progress)
	assert.Equal(t, models.ScanStateCompleted, snap.ScanState)

	notes := f.notes.all()
	require.Len(t, notes, 2)
	assert.Equal(t, "Scan started: abc123", notes[0].Text)
	assert.Equal(t, models.SeveritySuccess, notes[0].Severity)
	assert.Equal(t, "Scan completed!", notes[1].Text)
	assert.Equal(t, models.SeveritySuccess, notes[1].Severity)

	// No further polls once terminal; refresh fires after the delay.
	f.clock.Advance(time.Second)
	assert.False(t, f.events.has(EventRefreshResults))
	f.clock.Advance(time.Second)
	require.Eventually(t, func() bool { return f.events.has(EventRefreshResults) }, waitFor, tick)

	f.clock.Advance(5 * time.Second)
	assert.Equal(t, int32(2), f.svc.queries.Load())
	assert.Equal(t, []EventType{EventStarted, EventProgress, EventTerminal, EventRefreshResults}, f.events.types())
	f.svc.AssertExpectations(t)
}

func TestTerminal_FailedAndStoppedAreInfo(t *testing.T) {
	for _, st := range []models.ScanState{models.ScanStateFailed, models.ScanStateStopped} {
		t.Run(st.String(), func(t *testing.T) {
			f := newFixture(t)
			f.expectCreate("example.com", "x1")
			f.expectQuery("x1", st, 10, "")

			_, err := f.tr.Start(context.Background(), "example.com", Options{})
			require.NoError(t, err)
			f.advance(t, 1)
			f.waitState(t, terminalStateFor(st))
			f.waitEvent(t, EventTerminal)

			notes := f.notes.all()
			require.Len(t, notes, 2)
			assert.Equal(t, "Scan "+st.String()+"!", notes[1].Text)
			assert.Equal(t, models.SeverityInfo, notes[1].Severity)
		})
	}
}

func TestStart_CreateRejected(t *testing.T) {
	f := newFixture(t)
	f.svc.On("Create", mock.Anything, mock.Anything).
		Return(models.ScanHandle{}, &jobclient.BackendRejection{Op: "create", Message: "unknown script"}).Once()

	_, err := f.tr.Start(context.Background(), "example.com", Options{})
	require.Error(t, err)
	assert.True(t, jobclient.IsBackendRejection(err))

	snap := f.tr.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.True(t, snap.Handle.IsZero())
	assert.Error(t, snap.LastError)
	assert.Equal(t, 0, f.tr.ActivePollers())

	notes := f.notes.all()
	require.Len(t, notes, 1)
	assert.Equal(t, "unknown script", notes[0].Text)
	assert.Equal(t, models.SeverityError, notes[0].Severity)

	f.clock.Advance(5 * time.Second)
	f.svc.AssertNotCalled(t, "Query", mock.Anything, mock.Anything)
}

func TestStart_CreateFailureDropsPreviousScan(t *testing.T) {
	f := newFixture(t)
	f.expectCreate("a.example", "a1")
	f.svc.On("Create", mock.Anything, mock.MatchedBy(func(r jobclient.CreateRequest) bool { return r.Target == "b.example" })).
		Return(models.ScanHandle{}, &jobclient.RequestError{Op: "create", Err: errors.New("connection refused")}).Once()

	_, err := f.tr.Start(context.Background(), "a.example", Options{})
	require.NoError(t, err)
	_, err = f.tr.Start(context.Background(), "b.example", Options{})
	require.Error(t, err)

	assert.Equal(t, StateIdle, f.tr.Snapshot().State)
	assert.Equal(t, 0, f.tr.ActivePollers())
	notes := f.notes.all()
	assert.Contains(t, notes[len(notes)-1].Text, "Error starting scan")
}

func TestQuery_NotFoundKeepsPolling(t *testing.T) {
	f := newFixture(t)
	f.expectCreate("example.com", "abc123")
	f.svc.On("Query", mock.Anything, "abc123").Return(models.ScanStatus{}, jobclient.ErrNotFound).Twice()

	_, err := f.tr.Start(context.Background(), "example.com", Options{})
	require.NoError(t, err)

	f.advance(t, 1)
	f.advance(t, 2)

	snap := f.tr.Snapshot()
	assert.Equal(t, StatePolling, snap.State)
	assert.NoError(t, snap.LastError)
	assert.Equal(t, 1, f.tr.ActivePollers())
	assert.Len(t, f.notes.all(), 1)
}

func TestQuery_ErrorsKeepPolling(t *testing.T) {
	f := newFixture(t)
	f.expectCreate("example.com", "abc123")
	boom := &jobclient.RequestError{Op: "query", StatusCode: 502, Err: errors.New("bad gateway")}
	f.svc.On("Query", mock.Anything, "abc123").Return(models.ScanStatus{}, boom).Once()
	f.expectQuery("abc123", models.ScanStateRunning, 5, "")

	_, err := f.tr.Start(context.Background(), "example.com", Options{})
	require.NoError(t, err)

	f.advance(t, 1)
	require.Eventually(t, func() bool { return f.tr.Snapshot().LastError != nil }, waitFor, tick)
	assert.Equal(t, StatePolling, f.tr.Snapshot().State)

	f.advance(t, 2)
	require.Eventually(t, func() bool { return f.tr.Snapshot().Progress == 5 }, waitFor, tick)
	assert.NoError(t, f.tr.Snapshot().LastError)
	assert.Len(t, f.notes.all(), 1)
}

func TestStart_WhilePollingReplacesPoller(t *testing.T) {
	f := newFixture(t)
	f.expectCreate("a.example", "a1")
	f.expectCreate("b.example", "b1")
	f.expectQuery("a1", models.ScanStateRunning, 10, "")
	f.svc.On("Query", mock.Anything, "b1").Return(models.ScanStatus{ID: "b1", State: models.ScanStateRunning, Progress: 3}, nil)

	_, err := f.tr.Start(context.Background(), "a.example", Options{})
	require.NoError(t, err)
	f.advance(t, 1)
	require.Eventually(t, func() bool { return f.tr.Snapshot().Progress == 10 }, waitFor, tick)

	_, err = f.tr.Start(context.Background(), "b.example", Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, f.tr.ActivePollers())

	snap := f.tr.Snapshot()
	assert.Equal(t, "b1", snap.Handle.ID)
	assert.Equal(t, 0, snap.Progress)

	f.advance(t, 2)
	f.advance(t, 3)
	require.Eventually(t, func() bool { return f.tr.Snapshot().Progress == 3 }, waitFor, tick)
	f.svc.AssertNumberOfCalls(t, "Query", 3)
	assert.Equal(t, 1, f.tr.ActivePollers())
}

func TestStaleQueryResponseIsDiscarded(t *testing.T) {
	f := newFixture(t)
	f.expectCreate("a.example", "a1")
	f.expectCreate("b.example", "b1")

	inFlight := make(chan struct{})
	f.svc.On("Query", mock.Anything, "a1").Run(func(args mock.Arguments) {
		close(inFlight)
		<-args.Get(0).(context.Context).Done()
	}).Return(models.ScanStatus{ID: "a1", State: models.ScanStateCompleted, Progress: 100}, nil).Once()

	_, err := f.tr.Start(context.Background(), "a.example", Options{})
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	<-inFlight

	// The a1 answer lands after b1 has replaced it.
	_, err = f.tr.Start(context.Background(), "b.example", Options{})
	require.NoError(t, err)

	snap := f.tr.Snapshot()
	assert.Equal(t, StatePolling, snap.State)
	assert.Equal(t, "b1", snap.Handle.ID)
	assert.Equal(t, 0, snap.Progress)
	assert.Empty(t, snap.ScanState)
	assert.False(t, f.events.has(EventTerminal))
	for _, n := range f.notes.all() {
		assert.NotEqual(t, "Scan completed!", n.Text)
	}
}

func TestStart_SupersededWhileCreating(t *testing.T) {
	f := newFixture(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	f.svc.On("Create", mock.Anything, mock.MatchedBy(func(r jobclient.CreateRequest) bool { return r.Target == "slow.example" })).
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return(models.ScanHandle{ID: "slow1", Target: "slow.example"}, nil).Once()
	f.expectCreate("fast.example", "fast1")

	errCh := make(chan error, 1)
	go func() {
		_, err := f.tr.Start(context.Background(), "slow.example", Options{})
		errCh <- err
	}()
	<-entered

	_, err := f.tr.Start(context.Background(), "fast.example", Options{})
	require.NoError(t, err)
	close(release)

	assert.ErrorIs(t, <-errCh, ErrSuperseded)
	snap := f.tr.Snapshot()
	assert.Equal(t, "fast1", snap.Handle.ID)
	assert.Equal(t, StatePolling, snap.State)
	assert.Equal(t, 1, f.tr.ActivePollers())
}

func TestProgress_ClampedAndNeverDecreasing(t *testing.T) {
	f := newFixture(t)
	f.expectCreate("example.com", "p1")
	f.expectQuery("p1", models.ScanStateRunning, 50, "")
	f.expectQuery("p1", models.ScanStateRunning, 30, "")
	f.expectQuery("p1", models.ScanStateRunning, 150, "")

	_, err := f.tr.Start(context.Background(), "example.com", Options{})
	require.NoError(t, err)

	f.advance(t, 1)
	require.Eventually(t, func() bool { return f.tr.Snapshot().Progress == 50 }, waitFor, tick)
	f.advance(t, 2)
	require.Eventually(t, func() bool { return len(f.events.types()) == 3 }, waitFor, tick)
	assert.Equal(t, 50, f.tr.Snapshot().Progress)
	f.advance(t, 3)
	require.Eventually(t, func() bool { return f.tr.Snapshot().Progress == 100 }, waitFor, tick)
	assert.Equal(t, StatePolling, f.tr.Snapshot().State)
}

func TestUnknownBackendStateIsNotTerminal(t *testing.T) {
	f := newFixture(t)
	f.expectCreate("example.com", "u1")
	f.expectQuery("u1", models.ParseScanState("queued_remote"), 0, "")
	f.expectQuery("u1", models.ScanStateRunning, 1, "")

	_, err := f.tr.Start(context.Background(), "example.com", Options{})
	require.NoError(t, err)
	f.advance(t, 1)
	f.advance(t, 2)

	require.Eventually(t, func() bool { return f.tr.Snapshot().Progress == 1 }, waitFor, tick)
	assert.Equal(t, StatePolling, f.tr.Snapshot().State)
}

func TestStopCurrent_NoHandleMakesNoCalls(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.tr.StopCurrent(context.Background()))
	f.svc.AssertNotCalled(t, "Stop", mock.Anything, mock.Anything)
	assert.Empty(t, f.notes.all())
}

func TestStopCurrent_WaitsForNextPoll(t *testing.T) {
	f := newFixture(t)
	f.expectCreate("example.com", "s1")
	f.svc.On("Stop", mock.Anything, "s1").Return(nil).Once()
	f.expectQuery("s1", models.ScanStateStopped, 20, "Scan stopped by user")

	_, err := f.tr.Start(context.Background(), "example.com", Options{})
	require.NoError(t, err)

	require.NoError(t, f.tr.StopCurrent(context.Background()))
	assert.Equal(t, StatePolling, f.tr.Snapshot().State)
	notes := f.notes.all()
	assert.Equal(t, "Scan stopped", notes[len(notes)-1].Text)
	assert.Equal(t, models.SeverityInfo, notes[len(notes)-1].Severity)

	f.advance(t, 1)
	f.waitState(t, StateStopped)
	f.svc.AssertExpectations(t)
}

func TestStopCurrent_Failure(t *testing.T) {
	f := newFixture(t)
	f.expectCreate("example.com", "s1")
	f.svc.On("Stop", mock.Anything, "s1").Return(&jobclient.RequestError{Op: "stop", Err: errors.New("timeout")}).Once()

	_, err := f.tr.Start(context.Background(), "example.com", Options{})
	require.NoError(t, err)

	assert.Error(t, f.tr.StopCurrent(context.Background()))
	notes := f.notes.all()
	assert.Equal(t, "Failed to stop scan", notes[len(notes)-1].Text)
	assert.Equal(t, models.SeverityError, notes[len(notes)-1].Severity)
	assert.Equal(t, StatePolling, f.tr.Snapshot().State)
}

func TestClose(t *testing.T) {
	f := newFixture(t)
	f.expectCreate("example.com", "c1")

	_, err := f.tr.Start(context.Background(), "example.com", Options{})
	require.NoError(t, err)
	require.Equal(t, 1, f.tr.ActivePollers())

	f.tr.Close()
	f.tr.Close()
	assert.Equal(t, 0, f.tr.ActivePollers())

	_, err = f.tr.Start(context.Background(), "example.com", Options{})
	assert.ErrorIs(t, err, ErrClosed)

	f.clock.Advance(10 * time.Second)
	f.svc.AssertNotCalled(t, "Query", mock.Anything, mock.Anything)
}

func TestRefresh_CancelledByNewStart(t *testing.T) {
	f := newFixture(t)
	f.expectCreate("a.example", "a1")
	f.expectCreate("b.example", "b1")
	f.expectQuery("a1", models.ScanStateCompleted, 100, "")

	_, err := f.tr.Start(context.Background(), "a.example", Options{})
	require.NoError(t, err)
	f.advance(t, 1)
	f.waitState(t, StateCompleted)

	_, err = f.tr.Start(context.Background(), "b.example", Options{})
	require.NoError(t, err)
	f.svc.On("Query", mock.Anything, "b1").Return(models.ScanStatus{ID: "b1", State: models.ScanStateRunning}, nil)

	f.advance(t, 2)
	f.advance(t, 3)
	assert.False(t, f.events.has(EventRefreshResults))
}
