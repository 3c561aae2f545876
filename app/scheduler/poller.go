package scheduler

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mailtide/mailtide/models"
)

const (
	// DefaultPollInterval is how often the poller scans for due work.
	DefaultPollInterval = time.Minute

	// DefaultBatchSize bounds how many due schedules and firings one tick
	// picks up.
	DefaultBatchSize = 50

	// DefaultMaxFiringAttempts is how often a trigger firing is retried
	// before it is dropped from the due query.
	DefaultMaxFiringAttempts = 3

	// recordTimeout bounds the persistence that must still land after the
	// run itself was cut short.
	recordTimeout = 15 * time.Second
)

// PollerOptions tunes the polling loop. Zero values fall back to the
// package defaults.
type PollerOptions struct {
	PollInterval      time.Duration
	BatchSize         int
	MaxFiringAttempts int
}

// Poller drives the engine: every tick it lists due schedules and due
// trigger firings and runs each in its own goroutine behind the schedule
// lock. A broken schedule only ever poisons its own goroutine, never the
// tick.
type Poller struct {
	engine    *Engine
	recorder  *Recorder
	schedules ScheduleStore
	firings   FiringStore
	locker    ScheduleLocker
	clock     Clock
	logger    *log.Logger

	interval          time.Duration
	batchSize         int
	maxFiringAttempts int

	running atomic.Bool
	wg      sync.WaitGroup
}

func NewPoller(
	engine *Engine,
	recorder *Recorder,
	schedules ScheduleStore,
	firings FiringStore,
	locker ScheduleLocker,
	clock Clock,
	logger *log.Logger,
	opts PollerOptions,
) *Poller {
	if clock == nil {
		clock = SystemClock()
	}
	if locker == nil {
		locker = NewLocalScheduleLocker()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MaxFiringAttempts <= 0 {
		opts.MaxFiringAttempts = DefaultMaxFiringAttempts
	}
	return &Poller{
		engine:            engine,
		recorder:          recorder,
		schedules:         schedules,
		firings:           firings,
		locker:            locker,
		clock:             clock,
		logger:            logger,
		interval:          opts.PollInterval,
		batchSize:         opts.BatchSize,
		maxFiringAttempts: opts.MaxFiringAttempts,
	}
}

// Start launches the polling loop and returns a stop function. The first
// scan runs immediately. Stopping cancels the loop, waits for in-flight
// executions to wind down and leaves the poller restartable. Calling Start
// on a running poller is a no-op.
func (p *Poller) Start(parent context.Context) func() {
	if !p.running.CompareAndSwap(false, true) {
		return func() {}
	}

	ctx, cancel := context.WithCancel(parent)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		p.logger.Printf("poller started, interval %s, batch %d", p.interval, p.batchSize)
		p.runOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				p.logger.Printf("poller stopped")
				return
			case <-ticker.C:
				p.runOnce(ctx)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			p.wg.Wait()
			p.running.Store(false)
		})
	}
}

func (p *Poller) runOnce(ctx context.Context) {
	now := p.clock.Now()
	pollTicksTotal.Inc()

	schedules, err := p.schedules.ListDue(ctx, now, p.batchSize)
	if err != nil {
		p.logger.Printf("listing due schedules failed: %v", err)
	} else {
		dueSchedules.Set(float64(len(schedules)))
		for _, sched := range schedules {
			s := sched
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				p.runSchedule(ctx, s.ID)
			}()
		}
	}

	firings, err := p.firings.ListDue(ctx, now, p.maxFiringAttempts, p.batchSize)
	if err != nil {
		p.logger.Printf("listing due trigger firings failed: %v", err)
		return
	}
	for _, firing := range firings {
		f := firing
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runFiring(ctx, f)
		}()
	}
}

// runSchedule executes one due schedule behind its lock. The row is
// re-fetched and re-verified after the lock is taken: another worker may
// have run it between the listing and here.
func (p *Poller) runSchedule(ctx context.Context, scheduleID uint) {
	release, ok := p.locker.TryLock(ctx, scheduleID)
	if !ok {
		return
	}
	defer release()

	schedule, err := p.schedules.ByID(ctx, scheduleID)
	if err != nil {
		p.logger.Printf("schedule %d: lookup failed: %v", scheduleID, err)
		return
	}
	if schedule == nil {
		p.logger.Printf("schedule %d: vanished between listing and locking", scheduleID)
		return
	}
	if !schedule.DueAt(p.clock.Now()) {
		return
	}

	result, err := p.engine.Execute(ctx, schedule)
	if err != nil {
		p.logger.Printf("schedule %d: execution aborted: %v", schedule.ID, err)
		return
	}
	p.record(ctx, schedule, result)
}

// runFiring executes one due trigger firing. The firing is consumed by any
// actual execution, successful or not; only the pre-execution gates mark it
// failed so it can be retried a bounded number of times.
func (p *Poller) runFiring(ctx context.Context, firing *models.TriggerFiring) {
	release, ok := p.locker.TryLock(ctx, firing.ScheduleID)
	if !ok {
		// schedule busy; the firing stays queued for the next tick
		return
	}
	defer release()

	schedule, err := p.schedules.ByID(ctx, firing.ScheduleID)
	if err != nil {
		p.logger.Printf("firing %d: schedule lookup failed: %v", firing.ID, err)
		return
	}
	if schedule == nil {
		p.failFiring(ctx, firing, "schedule no longer exists")
		return
	}
	if !schedule.Active() {
		p.failFiring(ctx, firing, "schedule is deactivated")
		return
	}
	if schedule.Status != models.ScheduleStatusRunning {
		p.failFiring(ctx, firing, "schedule is "+schedule.Status.String())
		return
	}

	result, err := p.engine.Execute(ctx, schedule)
	if err != nil {
		p.logger.Printf("firing %d: execution aborted: %v", firing.ID, err)
		return
	}
	if result.Cancelled && !result.Attempted() {
		// nothing happened; leave the firing due
		return
	}
	p.record(ctx, schedule, result)

	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := p.firings.MarkExecuted(markCtx, firing.ID, p.clock.Now()); err != nil {
		p.logger.Printf("firing %d: marking executed failed: %v", firing.ID, err)
		return
	}
	triggerFiringsTotal.WithLabelValues("executed").Inc()
}

func (p *Poller) failFiring(ctx context.Context, firing *models.TriggerFiring, reason string) {
	p.logger.Printf("firing %d: %s", firing.ID, reason)
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := p.firings.MarkFailed(markCtx, firing.ID, reason); err != nil {
		p.logger.Printf("firing %d: marking failed failed: %v", firing.ID, err)
		return
	}
	triggerFiringsTotal.WithLabelValues("failed").Inc()
}

// record persists the outcome. The write must land even when the run was
// cut short by shutdown, so it detaches from the run context's cancellation
// while keeping a hard timeout.
func (p *Poller) record(ctx context.Context, schedule *models.CampaignSchedule, result *ExecutionResult) {
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := p.recorder.Record(recordCtx, schedule, result); err != nil {
		p.logger.Printf("schedule %d: recording execution failed: %v", schedule.ID, err)
	}
}
