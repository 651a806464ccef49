/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package jobs

import (
    "context"
    "errors"
    "fmt"
    "time"

    "github.com/HamedShams/jira-pulse/internal/domain"
    "github.com/HamedShams/jira-pulse/internal/logger"
    "github.com/HamedShams/jira-pulse/internal/repo"
    "github.com/HamedShams/jira-pulse/internal/services"
    "github.com/felixgeelhaar/statekit"
    "github.com/google/uuid"
    "github.com/robfig/cron/v3"
    "github.com/rs/zerolog"
)

const (
    StateIdle      = "idle"
    StateScheduled = "scheduled"
    StateRunning   = "running"

    eventArm  = "arm"
    eventFire = "fire"
    eventDone = "done"

    TriggerCatchUp  = "catch-up"
    TriggerSchedule = "schedule"
)

type Generator interface {
    Generate(ctx context.Context, projectID string) (services.Report, error)
}

type Notifier interface {
    Notify(ctx context.Context, text string) error
}

// dueChecker is implemented by schedules that can tell whether a start time
// falls inside a slot, which enables the catch-up run. Weekly does; a plain
// cron.Schedule never catches up.
type dueChecker interface {
    Due(now time.Time) bool
}

type cycleContext struct{}

// Scheduler runs the report on its schedule until its context ends.
// Only the goroutine inside Run touches the state machine and the next
// trigger slot.
type Scheduler struct {
    schedule   cron.Schedule
    gen        Generator
    notify     Notifier
    store      repo.RunStore
    lock       repo.Locker
    log        zerolog.Logger
    runTimeout time.Duration

    now   func() time.Time
    after func(time.Duration) <-chan time.Time

    fsm  *statekit.Interpreter[cycleContext]
    next chan time.Time
}

func New(schedule cron.Schedule, gen Generator, notify Notifier, store repo.RunStore, log zerolog.Logger) (*Scheduler, error) {
    builder := statekit.NewMachine[cycleContext]("report-scheduler").
        WithInitial(statekit.StateID(StateIdle)).
        WithContext(cycleContext{})

    builder.State(StateIdle).
        On(eventArm).Target(StateScheduled).
        On(eventFire).Target(StateRunning).
        Done()

    builder.State(StateScheduled).
        On(eventFire).Target(StateRunning).
        Done()

    builder.State(StateRunning).
        On(eventDone).Target(StateScheduled).
        Done()

    machine, err := builder.Build()
    if err != nil { return nil, fmt.Errorf("build scheduler state machine: %w", err) }
    interp := statekit.NewInterpreter(machine)
    interp.Start()

    if schedule == nil { return nil, errors.New("scheduler: nil schedule") }
    if store == nil { store = repo.NewMemory(0) }
    return &Scheduler{
        schedule:   schedule,
        gen:        gen,
        notify:     notify,
        store:      store,
        log:        log,
        runTimeout: 5 * time.Minute,
        now:        time.Now,
        after:      time.After,
        fsm:        interp,
        next:       make(chan time.Time, 1),
    }, nil
}

// WithLock makes every cycle take l first and skip when another replica holds it.
func (s *Scheduler) WithLock(l repo.Locker) *Scheduler { s.lock = l; return s }

func (s *Scheduler) WithRunTimeout(d time.Duration) *Scheduler {
    if d > 0 { s.runTimeout = d }
    return s
}

func (s *Scheduler) WithClock(now func() time.Time, after func(time.Duration) <-chan time.Time) *Scheduler {
    s.now, s.after = now, after
    return s
}

func (s *Scheduler) state() string { return string(s.fsm.State().Value) }

func (s *Scheduler) send(event string) error {
    before := s.state()
    s.fsm.Send(statekit.Event{Type: statekit.EventType(event)})
    if s.state() == before { return fmt.Errorf("scheduler: %q not allowed in state %q", event, before) }
    return nil
}

func (s *Scheduler) due(now time.Time) bool {
    d, ok := s.schedule.(dueChecker)
    return ok && d.Due(now)
}

// Run fires at once when started inside a scheduled hour, then keeps
// re-arming for the next one. It returns only when ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
    if now := s.now(); s.due(now) {
        s.fire(ctx, TriggerCatchUp, now)
    } else {
        s.arm(eventArm, time.Time{})
    }
    for {
        if ctx.Err() != nil { return nil }
        var at time.Time
        select {
        case <-ctx.Done():
            return nil
        case at = <-s.next:
        }
        if at.IsZero() {
            s.log.Warn().Msg("scheduler: empty schedule, nothing to arm")
            <-ctx.Done()
            return nil
        }
        select {
        case <-ctx.Done():
            return nil
        case <-s.after(at.Sub(s.now())):
        }
        s.fire(ctx, TriggerSchedule, at)
    }
}

// arm computes the next trigger from a fresh clock reading and hands it to
// the loop through the single-slot channel. The reading never goes below
// floor, the slot that just fired, so a clock stepped back or a timer that
// woke early cannot pick the same slot twice.
func (s *Scheduler) arm(event string, floor time.Time) {
    now := s.now()
    if now.Before(floor) { now = floor }
    next := s.schedule.Next(now)
    if err := s.send(event); err != nil { s.log.Error().Err(err).Str("event", event).Msg("scheduler: arm") }
    select {
    case s.next <- next:
    default:
        // stale value left by an earlier arm; replace it
        <-s.next
        s.next <- next
    }
    s.log.Info().Time("next", next).Msg("scheduler: armed")
}

// fire runs one cycle and always re-arms, whatever the cycle did.
func (s *Scheduler) fire(ctx context.Context, trigger string, slot time.Time) {
    if err := s.send(eventFire); err != nil { s.log.Error().Err(err).Msg("scheduler: fire") }
    job := cron.NewChain(cron.Recover(logger.CronLogger{Log: s.log})).Then(cron.FuncJob(func() {
        if err := s.cycle(ctx, trigger); err != nil {
            s.log.Error().Err(err).Str("trigger", trigger).Msg("scheduler: cycle failed")
        }
    }))
    job.Run()
    s.arm(eventDone, slot)
}

func (s *Scheduler) cycle(parent context.Context, trigger string) (err error) {
    ctx, cancel := context.WithTimeout(parent, s.runTimeout); defer cancel()
    if s.lock != nil {
        ok, lerr := s.lock.TryLock(ctx)
        if lerr != nil { return fmt.Errorf("lock: %w", lerr) }
        if !ok { s.log.Info().Msg("scheduler: cycle already running elsewhere"); return nil }
        defer func() { _ = s.lock.Unlock(context.WithoutCancel(ctx)) }()
    }

    rec := domain.RunRecord{ID: uuid.NewString(), StartedAt: s.now(), Trigger: trigger}
    log := s.log.With().Str("run_id", rec.ID).Logger()
    if serr := s.store.StartRun(ctx, rec); serr != nil { log.Warn().Err(serr).Msg("run history: start") }
    defer func() {
        p := recover()
        if p != nil { err = fmt.Errorf("panic: %v", p) }
        fin := s.now()
        rec.FinishedAt = &fin
        rec.Success = err == nil
        if err != nil { rec.Error = err.Error() }
        if ferr := s.store.FinishRun(context.WithoutCancel(ctx), rec); ferr != nil { log.Warn().Err(ferr).Msg("run history: finish") }
        if p != nil { panic(p) }
    }()

    log.Info().Str("trigger", trigger).Msg("scheduler: cycle started")
    rep, gerr := s.gen.Generate(ctx, "")
    rec.Projects, rec.Findings, rec.Failures = rep.Projects, rep.Findings, rep.Failures
    if gerr != nil { return fmt.Errorf("generate: %w", gerr) }
    if rep.Empty() { log.Info().Msg("scheduler: nothing to report"); return nil }
    if s.notify == nil { return errors.New("no notifier configured") }
    if nerr := s.notify.Notify(ctx, rep.Text); nerr != nil { return fmt.Errorf("notify: %w", nerr) }
    rec.Sent = true
    log.Info().Int("findings", rep.Findings).Int("failures", rep.Failures).Msg("scheduler: report sent")
    return nil
}
