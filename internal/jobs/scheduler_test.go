package jobs

import (
    "context"
    "errors"
    "sync"
    "testing"
    "time"

    "github.com/HamedShams/jira-pulse/internal/config"
    "github.com/HamedShams/jira-pulse/internal/domain"
    "github.com/HamedShams/jira-pulse/internal/services"
    "github.com/robfig/cron/v3"
    "github.com/rs/zerolog"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

// fakeClock jumps straight to every requested deadline and cancels the run
// once maxWaits timers have elapsed. A non-zero stepBack moves the clock
// backwards right after each timer fires, as an NTP correction would.
type fakeClock struct {
    t        time.Time
    waits    []time.Duration
    maxWaits int
    stepBack time.Duration
    cancel   context.CancelFunc
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) after(d time.Duration) <-chan time.Time {
    if len(c.waits) >= c.maxWaits {
        c.cancel()
        return nil
    }
    c.waits = append(c.waits, d)
    c.t = c.t.Add(d)
    ch := make(chan time.Time, 1)
    ch <- c.t
    c.t = c.t.Add(-c.stepBack)
    return ch
}

type step struct {
    rep   services.Report
    err   error
    panic bool
}

type scriptedGenerator struct {
    steps []step
    calls int
}

func (g *scriptedGenerator) Generate(_ context.Context, projectID string) (services.Report, error) {
    i := g.calls
    g.calls++
    if i >= len(g.steps) { return services.Report{Text: "report", Projects: 1}, nil }
    st := g.steps[i]
    if st.panic { panic("rule table corrupted") }
    return st.rep, st.err
}

type recordingNotifier struct {
    texts []string
    err   error
}

func (n *recordingNotifier) Notify(_ context.Context, text string) error {
    if n.err != nil { return n.err }
    n.texts = append(n.texts, text)
    return nil
}

type recordingStore struct {
    mu       sync.Mutex
    started  []domain.RunRecord
    finished []domain.RunRecord
}

func (s *recordingStore) StartRun(_ context.Context, rec domain.RunRecord) error {
    s.mu.Lock(); defer s.mu.Unlock()
    s.started = append(s.started, rec)
    return nil
}

func (s *recordingStore) FinishRun(_ context.Context, rec domain.RunRecord) error {
    s.mu.Lock(); defer s.mu.Unlock()
    s.finished = append(s.finished, rec)
    return nil
}

func (s *recordingStore) LastRun(context.Context) (*domain.RunRecord, error) { return nil, nil }

type busyLock struct{ tries int }

func (l *busyLock) TryLock(context.Context) (bool, error) { l.tries++; return false, nil }
func (l *busyLock) Unlock(context.Context) error          { return nil }

func newScheduler(t *testing.T, freq config.Frequency, start time.Time, maxWaits int, gen Generator, n Notifier, store *recordingStore) (*Scheduler, *fakeClock, context.Context) {
    t.Helper()
    return newSchedulerFor(t, NewWeekly(freq), start, maxWaits, gen, n, store)
}

func newSchedulerFor(t *testing.T, sched cron.Schedule, start time.Time, maxWaits int, gen Generator, n Notifier, store *recordingStore) (*Scheduler, *fakeClock, context.Context) {
    t.Helper()
    ctx, cancel := context.WithCancel(context.Background())
    t.Cleanup(cancel)
    clk := &fakeClock{t: start, maxWaits: maxWaits, cancel: cancel}
    s, err := New(sched, gen, n, store, zerolog.Nop())
    require.NoError(t, err)
    s.WithClock(clk.now, clk.after)
    return s, clk, ctx
}

func TestRun_ArmsAndFiresOnSchedule(t *testing.T) {
    gen := &scriptedGenerator{}
    n := &recordingNotifier{}
    store := &recordingStore{}
    s, clk, ctx := newScheduler(t, config.Frequency{DayOfWeek: []int{1, 3}, HourOfDay: []int{9, 14}}, monday(10, 0), 2, gen, n, store)

    require.NoError(t, s.Run(ctx))
    assert.Equal(t, []time.Duration{4 * time.Hour, 43 * time.Hour}, clk.waits)
    assert.Equal(t, 2, gen.calls)
    assert.Equal(t, []string{"report", "report"}, n.texts)
    require.Len(t, store.finished, 2)
    for _, rec := range store.finished {
        assert.Equal(t, TriggerSchedule, rec.Trigger)
        assert.True(t, rec.Success)
        assert.True(t, rec.Sent)
        assert.NotEmpty(t, rec.ID)
    }
    assert.NotEqual(t, store.finished[0].ID, store.finished[1].ID)
    assert.Equal(t, StateScheduled, s.state())
}

func TestRun_CatchesUpWhenStartedInsideWindow(t *testing.T) {
    gen := &scriptedGenerator{}
    store := &recordingStore{}
    s, clk, ctx := newScheduler(t, config.Frequency{DayOfWeek: []int{1}, HourOfDay: []int{9}}, monday(9, 30), 1, gen, &recordingNotifier{}, store)

    require.NoError(t, s.Run(ctx))
    assert.Equal(t, 2, gen.calls)
    assert.Equal(t, []time.Duration{7*24*time.Hour - 30*time.Minute}, clk.waits)
    require.Len(t, store.finished, 2)
    assert.Equal(t, TriggerCatchUp, store.finished[0].Trigger)
    assert.Equal(t, TriggerSchedule, store.finished[1].Trigger)
}

func TestRun_ClockSteppedBackDoesNotRefireSlot(t *testing.T) {
    gen := &scriptedGenerator{}
    store := &recordingStore{}
    s, clk, ctx := newScheduler(t, config.Frequency{DayOfWeek: []int{1}, HourOfDay: []int{14}}, monday(10, 0), 2, gen, &recordingNotifier{}, store)
    clk.stepBack = time.Second

    require.NoError(t, s.Run(ctx))
    // the clock reads 13:59:59 after the 14:00 slot fired; the next wait
    // still targets next Monday rather than 14:00 again
    assert.Equal(t, []time.Duration{4 * time.Hour, 7*24*time.Hour + time.Second}, clk.waits)
    assert.Equal(t, 2, gen.calls)
    require.Len(t, store.started, 2)
    assert.Equal(t, 7*24*time.Hour, store.started[1].StartedAt.Sub(store.started[0].StartedAt))
}

func TestRun_AcceptsAnyCronSchedule(t *testing.T) {
    sched, err := cron.ParseStandard("CRON_TZ=UTC 0 14 * * 1")
    require.NoError(t, err)
    gen := &scriptedGenerator{}
    store := &recordingStore{}
    // started inside the slot: a plain cron schedule has no catch-up
    s, clk, ctx := newSchedulerFor(t, sched, monday(14, 30), 1, gen, &recordingNotifier{}, store)

    require.NoError(t, s.Run(ctx))
    assert.Equal(t, []time.Duration{7*24*time.Hour - 30*time.Minute}, clk.waits)
    assert.Equal(t, 1, gen.calls)
    require.Len(t, store.finished, 1)
    assert.Equal(t, TriggerSchedule, store.finished[0].Trigger)
}

func TestNew_RejectsNilSchedule(t *testing.T) {
    _, err := New(nil, &scriptedGenerator{}, &recordingNotifier{}, nil, zerolog.Nop())
    assert.Error(t, err)
}

func TestStateMachine_RunningGoesStraightToScheduled(t *testing.T) {
    s, err := New(NewWeekly(config.Frequency{DayOfWeek: []int{1}, HourOfDay: []int{9}}), &scriptedGenerator{}, &recordingNotifier{}, nil, zerolog.Nop())
    require.NoError(t, err)
    assert.Equal(t, StateIdle, s.state())

    require.NoError(t, s.send(eventFire))
    assert.Equal(t, StateRunning, s.state())
    assert.Error(t, s.send(eventArm))
    require.NoError(t, s.send(eventDone))
    assert.Equal(t, StateScheduled, s.state())

    assert.Error(t, s.send(eventDone))
    require.NoError(t, s.send(eventFire))
    assert.Equal(t, StateRunning, s.state())
}

func TestRun_ReArmsAfterErrorAndPanic(t *testing.T) {
    gen := &scriptedGenerator{steps: []step{
        {err: errors.New("jira unreachable")},
        {panic: true},
    }}
    n := &recordingNotifier{}
    store := &recordingStore{}
    s, clk, ctx := newScheduler(t, config.Frequency{DayOfWeek: []int{0, 1, 2, 3, 4, 5, 6}, HourOfDay: []int{0, 12}}, monday(1, 0), 3, gen, n, store)

    require.NoError(t, s.Run(ctx))
    assert.Len(t, clk.waits, 3)
    assert.Equal(t, 3, gen.calls)
    assert.Equal(t, []string{"report"}, n.texts)

    require.Len(t, store.finished, 3)
    assert.False(t, store.finished[0].Success)
    assert.Contains(t, store.finished[0].Error, "jira unreachable")
    assert.False(t, store.finished[1].Success)
    assert.Contains(t, store.finished[1].Error, "panic")
    assert.True(t, store.finished[2].Success)
    assert.Equal(t, StateScheduled, s.state())
}

func TestRun_EmptyReportIsNotSent(t *testing.T) {
    gen := &scriptedGenerator{steps: []step{{rep: services.Report{}}}}
    n := &recordingNotifier{}
    store := &recordingStore{}
    s, _, ctx := newScheduler(t, config.Frequency{DayOfWeek: []int{1}, HourOfDay: []int{12}}, monday(10, 0), 1, gen, n, store)

    require.NoError(t, s.Run(ctx))
    assert.Empty(t, n.texts)
    require.Len(t, store.finished, 1)
    assert.True(t, store.finished[0].Success)
    assert.False(t, store.finished[0].Sent)
}

func TestRun_NotifyFailureIsRecorded(t *testing.T) {
    store := &recordingStore{}
    s, _, ctx := newScheduler(t, config.Frequency{DayOfWeek: []int{1}, HourOfDay: []int{12}}, monday(10, 0), 1,
        &scriptedGenerator{}, &recordingNotifier{err: errors.New("chat not found")}, store)

    require.NoError(t, s.Run(ctx))
    require.Len(t, store.finished, 1)
    assert.False(t, store.finished[0].Sent)
    assert.Contains(t, store.finished[0].Error, "notify: chat not found")
}

func TestRun_SkipsCycleWhenLockIsHeld(t *testing.T) {
    gen := &scriptedGenerator{}
    store := &recordingStore{}
    lock := &busyLock{}
    s, _, ctx := newScheduler(t, config.Frequency{DayOfWeek: []int{1}, HourOfDay: []int{12}}, monday(10, 0), 2, gen, &recordingNotifier{}, store)
    s.WithLock(lock)

    require.NoError(t, s.Run(ctx))
    assert.Equal(t, 2, lock.tries)
    assert.Zero(t, gen.calls)
    assert.Empty(t, store.started)
}

func TestRun_ReturnsOnCancel(t *testing.T) {
    s, err := New(NewWeekly(config.Frequency{DayOfWeek: []int{1}, HourOfDay: []int{9}}), &scriptedGenerator{}, &recordingNotifier{}, nil, zerolog.Nop())
    require.NoError(t, err)
    ctx, cancel := context.WithCancel(context.Background())
    done := make(chan error, 1)
    go func() { done <- s.Run(ctx) }()
    cancel()
    select {
    case err := <-done:
        assert.NoError(t, err)
    case <-time.After(2 * time.Second):
        t.Fatal("scheduler did not stop")
    }
}
