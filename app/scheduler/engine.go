// Package scheduler implements the campaign automation engine: due-schedule
// polling, the five execution modes, trigger dispatch and durable execution
// recording.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/mailtide/mailtide/app/services"
	"github.com/mailtide/mailtide/models"
)

const (
	// DefaultSendTimeout bounds a single dispatcher call.
	DefaultSendTimeout = 30 * time.Second

	// DefaultControlCheckEvery is how many completed sends pass between
	// control flag re-reads during a delivery loop.
	DefaultControlCheckEvery = 10
)

// ScheduleStore is the slice of the schedule repository the engine, the
// recorder and the poller need.
type ScheduleStore interface {
	ByID(ctx context.Context, id uint) (*models.CampaignSchedule, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.CampaignSchedule, error)
	ListByTriggerEvent(ctx context.Context, customerID uint, event models.TriggerEvent) ([]*models.CampaignSchedule, error)
	ControlFlags(ctx context.Context, id uint) (models.ScheduleStatus, bool, error)
	RecordExecution(ctx context.Context, scheduleID uint, record *models.ExecutionRecord, newStatus *models.ScheduleStatus) error
	UpdateStatus(ctx context.Context, id uint, status models.ScheduleStatus) error
}

// CampaignStore loads the campaign a schedule sends.
type CampaignStore interface {
	ByID(ctx context.Context, id uint) (*models.Campaign, error)
}

// TemplateStore resolves drip step template references.
type TemplateStore interface {
	ByRef(ctx context.Context, customerID uint, ref string) (*models.Template, error)
}

// DripStore is the slice of the drip progress repository the engine needs.
type DripStore interface {
	ListBySchedule(ctx context.Context, scheduleID uint) ([]*models.DripProgress, error)
	SaveBatch(ctx context.Context, cursors []*models.DripProgress) error
	Advance(ctx context.Context, id uint, nextStep int, at time.Time) error
	Complete(ctx context.Context, id uint, at time.Time) error
}

// ExecutionResult is the in-memory outcome of one schedule execution. The
// recorder turns it into an execution row plus stats and status updates.
type ExecutionResult struct {
	ScheduleID     uint
	ExecutedAt     time.Time
	RecipientCount int
	SuccessCount   int
	FailureCount   int
	ErrorMessages  []string

	// Cancelled marks a run stopped between sends by context cancellation
	// or by an operator flipping the control flags.
	Cancelled bool

	// Terminated marks a recurring run that found its rule exhausted and
	// sent nothing.
	Terminated bool

	// DripCompleted reports that every known drip cursor has finished the
	// sequence. DripCursors is how many cursors the run knew about after
	// admitting new subscribers.
	DripCompleted bool
	DripCursors   int

	// Failure is set when the execution failed before any send was
	// attempted: invalid configuration, unresolvable recipients.
	Failure *ExecutionError
}

// Status maps the counters onto the execution history status.
func (r *ExecutionResult) Status() models.ExecutionStatus {
	switch {
	case r.Failure != nil:
		return models.ExecutionStatusFailed
	case r.FailureCount == 0:
		return models.ExecutionStatusSuccess
	case r.SuccessCount > 0:
		return models.ExecutionStatusPartial
	default:
		return models.ExecutionStatusFailed
	}
}

// AllFailed checks if every attempted send failed.
func (r *ExecutionResult) AllFailed() bool {
	return r.RecipientCount > 0 && r.SuccessCount == 0
}

// Attempted checks if the run did anything worth recording.
func (r *ExecutionResult) Attempted() bool {
	return r.Failure != nil || r.Terminated || r.SuccessCount+r.FailureCount > 0
}

// EngineOptions tunes per-execution behavior. Zero values fall back to the
// package defaults.
type EngineOptions struct {
	SendTimeout       time.Duration
	ControlCheckEvery int
}

// Engine executes a single schedule: it validates the configuration,
// resolves the audience and drives the delivery loop. It never mutates the
// schedule row itself; persistence belongs to the Recorder.
type Engine struct {
	schedules  ScheduleStore
	campaigns  CampaignStore
	templates  TemplateStore
	drips      DripStore
	resolver   *RecipientResolver
	dispatcher services.EmailDispatcher
	clock      Clock
	logger     *log.Logger
	validator  *validator.Validate

	sendTimeout       time.Duration
	controlCheckEvery int
}

func NewEngine(
	schedules ScheduleStore,
	campaigns CampaignStore,
	templates TemplateStore,
	drips DripStore,
	resolver *RecipientResolver,
	dispatcher services.EmailDispatcher,
	clock Clock,
	logger *log.Logger,
	opts EngineOptions,
) *Engine {
	if clock == nil {
		clock = SystemClock()
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if opts.ControlCheckEvery <= 0 {
		opts.ControlCheckEvery = DefaultControlCheckEvery
	}
	return &Engine{
		schedules:         schedules,
		campaigns:         campaigns,
		templates:         templates,
		drips:             drips,
		resolver:          resolver,
		dispatcher:        dispatcher,
		clock:             clock,
		logger:            logger,
		validator:         validator.New(),
		sendTimeout:       opts.SendTimeout,
		controlCheckEvery: opts.ControlCheckEvery,
	}
}

// Execute runs the schedule once and returns the outcome. The error return
// is reserved for a nil schedule or a context already dead before any work
// started; everything that happens during the run, including total failure,
// lands in the result instead.
func (e *Engine) Execute(ctx context.Context, schedule *models.CampaignSchedule) (*ExecutionResult, error) {
	if schedule == nil {
		return nil, errors.New("schedule is nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	timer := prometheus.NewTimer(executionDuration.WithLabelValues(schedule.ScheduleType.String()))
	defer timer.ObserveDuration()

	result := &ExecutionResult{ScheduleID: schedule.ID, ExecutedAt: e.clock.Now()}

	content, verr := e.validateSchedule(ctx, schedule)
	if verr != nil {
		result.Failure = verr
		result.ErrorMessages = append(result.ErrorMessages, verr.Error())
		executionsTotal.WithLabelValues(schedule.ScheduleType.String(), metricOutcome(result)).Inc()
		return result, nil
	}

	switch schedule.ScheduleType {
	case models.ScheduleTypeRecurring:
		e.executeRecurring(ctx, schedule, content, result)
	case models.ScheduleTypeDrip:
		e.executeDrip(ctx, schedule, content, result)
	default:
		e.executeStandard(ctx, schedule, content, result)
	}

	executionsTotal.WithLabelValues(schedule.ScheduleType.String(), metricOutcome(result)).Inc()
	return result, nil
}

// executionContent is everything loaded up front that the delivery loop
// needs: the campaign for sender identity and body, and for drip schedules
// every step template keyed by ref.
type executionContent struct {
	campaign  *models.Campaign
	templates map[string]*models.Template
}

// messageContent is the pre-personalization subject and bodies of one send.
type messageContent struct {
	subject  string
	htmlBody string
	textBody string
}

// validateSchedule checks the configuration and loads the campaign and any
// drip templates. All failures surface as a validation error so a broken
// schedule fails before a single recipient is resolved.
func (e *Engine) validateSchedule(ctx context.Context, schedule *models.CampaignSchedule) (*executionContent, *ExecutionError) {
	if err := e.validator.Struct(schedule); err != nil {
		return nil, NewExecutionError(CodeValidationFailed, "schedule configuration is invalid", err)
	}

	switch schedule.ScheduleType {
	case models.ScheduleTypeScheduled:
		if schedule.ScheduledDate == nil {
			return nil, NewExecutionError(CodeValidationFailed, "scheduled date is not set", nil)
		}
	case models.ScheduleTypeRecurring:
		if schedule.Recurrence == nil {
			return nil, NewExecutionError(CodeValidationFailed, "recurrence rule is not set", nil)
		}
	case models.ScheduleTypeDrip:
		if len(schedule.DripSequence) == 0 {
			return nil, NewExecutionError(CodeValidationFailed, "drip sequence is empty", nil)
		}
	case models.ScheduleTypeTrigger:
		if len(schedule.Triggers) == 0 {
			return nil, NewExecutionError(CodeValidationFailed, "trigger rules are empty", nil)
		}
	}

	campaign, err := e.campaigns.ByID(ctx, schedule.CampaignID)
	if err != nil {
		return nil, NewExecutionError(CodeValidationFailed, "campaign lookup failed", err)
	}
	if campaign == nil {
		return nil, NewExecutionErrorf(CodeValidationFailed, "campaign %d does not exist", ErrCampaignNotFound, schedule.CampaignID)
	}

	content := &executionContent{campaign: campaign}
	if schedule.ScheduleType == models.ScheduleTypeDrip {
		content.templates = make(map[string]*models.Template, len(schedule.DripSequence))
		for _, step := range schedule.DripSequence {
			if _, ok := content.templates[step.TemplateRef]; ok {
				continue
			}
			template, err := e.templates.ByRef(ctx, schedule.CustomerID, step.TemplateRef)
			if err != nil {
				return nil, NewExecutionErrorf(CodeValidationFailed, "template %q lookup failed", err, step.TemplateRef)
			}
			if template == nil {
				return nil, NewExecutionErrorf(CodeValidationFailed, "template %q does not exist", ErrTemplateNotFound, step.TemplateRef)
			}
			content.templates[step.TemplateRef] = template
		}
	}
	return content, nil
}

// executeStandard covers immediate, scheduled and trigger executions: resolve
// the audience, cap it, deliver the campaign body to everyone.
func (e *Engine) executeStandard(ctx context.Context, schedule *models.CampaignSchedule, content *executionContent, result *ExecutionResult) {
	recipients, err := e.resolver.Resolve(ctx, schedule)
	if err != nil {
		result.Failure = asExecutionError(err, CodeRecipientResolutionFailed)
		result.ErrorMessages = append(result.ErrorMessages, result.Failure.Error())
		return
	}

	if limit := schedule.Settings.MaxRecipientsPerExecution; limit > 0 && len(recipients) > limit {
		e.logger.Printf("schedule %d: capping recipients %d -> %d", schedule.ID, len(recipients), limit)
		recipients = recipients[:limit]
	}

	msg := messageContent{
		subject:  content.campaign.Subject,
		htmlBody: content.campaign.HTMLBody,
		textBody: content.campaign.TextBody,
	}

	limiter := e.sendLimiter(schedule)
	for _, sub := range recipients {
		if !e.checkpoint(ctx, schedule, limiter, result) {
			break
		}
		e.sendTo(ctx, schedule, content.campaign, msg, sub, result)
	}

	result.RecipientCount = result.SuccessCount + result.FailureCount
}

// executeRecurring checks rule exhaustion against the execution instant and
// otherwise behaves exactly like a standard run.
func (e *Engine) executeRecurring(ctx context.Context, schedule *models.CampaignSchedule, content *executionContent, result *ExecutionResult) {
	if schedule.RecurrenceExhausted(result.ExecutedAt) {
		result.Terminated = true
		return
	}
	e.executeStandard(ctx, schedule, content, result)
}

// executeDrip walks the sequence steps in order and sends each due step to
// the cursors sitting on it. Cursors advanced onto a zero-delay step are
// picked up again later in the same run, so a chain of zero-delay steps
// coalesces into one execution.
func (e *Engine) executeDrip(ctx context.Context, schedule *models.CampaignSchedule, content *executionContent, result *ExecutionResult) {
	recipients, err := e.resolver.Resolve(ctx, schedule)
	if err != nil {
		result.Failure = asExecutionError(err, CodeRecipientResolutionFailed)
		result.ErrorMessages = append(result.ErrorMessages, result.Failure.Error())
		return
	}

	cursors, err := e.drips.ListBySchedule(ctx, schedule.ID)
	if err != nil {
		result.Failure = NewExecutionError(CodeRecipientResolutionFailed, "drip cursor lookup failed", err)
		result.ErrorMessages = append(result.ErrorMessages, result.Failure.Error())
		return
	}
	bySub := make(map[uint]*models.DripProgress, len(cursors))
	for _, cursor := range cursors {
		bySub[cursor.SubscriberID] = cursor
	}

	// Newly matched subscribers enter the sequence at step zero with their
	// clock starting now.
	var entering []*models.DripProgress
	for _, sub := range recipients {
		if _, ok := bySub[sub.ID]; ok {
			continue
		}
		cursor := &models.DripProgress{
			ScheduleID:    schedule.ID,
			SubscriberID:  sub.ID,
			EnteredAt:     result.ExecutedAt,
			StepEnteredAt: result.ExecutedAt,
		}
		entering = append(entering, cursor)
		bySub[sub.ID] = cursor
	}
	if len(entering) > 0 {
		if err := e.drips.SaveBatch(ctx, entering); err != nil {
			result.Failure = NewExecutionError(CodeRecipientResolutionFailed, "drip cursor creation failed", err)
			result.ErrorMessages = append(result.ErrorMessages, result.Failure.Error())
			return
		}
		e.logger.Printf("schedule %d: %d subscribers entered the drip sequence", schedule.ID, len(entering))
	}

	limiter := e.sendLimiter(schedule)
	maxSends := schedule.Settings.MaxRecipientsPerExecution

steps:
	for stepIdx, step := range schedule.DripSequence {
		template := content.templates[step.TemplateRef]
		msg := messageContent{
			subject:  template.Subject,
			htmlBody: template.HTMLBody,
			textBody: template.TextBody,
		}
		if step.SubjectOverride != nil && *step.SubjectOverride != "" {
			msg.subject = *step.SubjectOverride
		}

		for _, sub := range recipients {
			cursor := bySub[sub.ID]
			if cursor == nil || cursor.Completed() || cursor.StepIndex != stepIdx {
				continue
			}
			if !cursor.StepDue(step, result.ExecutedAt) {
				continue
			}
			// A failed step condition skips the send but still moves the
			// cursor forward, matching how an entry questionnaire works:
			// the step is passed over, not retried forever.
			if !MatchesConditions(NewSubscriberPayload(sub), step.Conditions) {
				e.advanceCursor(ctx, schedule, cursor, stepIdx+1, result.ExecutedAt)
				continue
			}
			if maxSends > 0 && result.SuccessCount+result.FailureCount >= maxSends {
				e.logger.Printf("schedule %d: send cap %d reached, deferring remaining steps", schedule.ID, maxSends)
				break steps
			}
			if !e.checkpoint(ctx, schedule, limiter, result) {
				break steps
			}
			e.sendTo(ctx, schedule, content.campaign, msg, sub, result)
			e.advanceCursor(ctx, schedule, cursor, stepIdx+1, result.ExecutedAt)
		}
	}

	result.RecipientCount = result.SuccessCount + result.FailureCount

	result.DripCursors = len(bySub)
	result.DripCompleted = len(bySub) > 0
	for _, cursor := range bySub {
		if !cursor.Completed() {
			result.DripCompleted = false
			break
		}
	}
}

// advanceCursor moves the in-memory cursor and persists the move. A cursor
// walking off the end of the sequence is completed. Persistence failures are
// logged and absorbed; the recipient is revisited on the next run.
func (e *Engine) advanceCursor(ctx context.Context, schedule *models.CampaignSchedule, cursor *models.DripProgress, nextStep int, at time.Time) {
	if nextStep >= len(schedule.DripSequence) {
		cursor.CompletedAt = &at
		if err := e.drips.Complete(ctx, cursor.ID, at); err != nil {
			e.logger.Printf("schedule %d: completing drip cursor %d failed: %v", schedule.ID, cursor.ID, err)
		}
		return
	}
	cursor.StepIndex = nextStep
	cursor.StepEnteredAt = at
	if err := e.drips.Advance(ctx, cursor.ID, nextStep, at); err != nil {
		e.logger.Printf("schedule %d: advancing drip cursor %d failed: %v", schedule.ID, cursor.ID, err)
	}
}

// checkpoint is the engine's only suspension point: cooperative cancellation,
// throttle pacing and the periodic control flag re-read all happen between
// sends, never inside one. It reports false when the run must stop.
func (e *Engine) checkpoint(ctx context.Context, schedule *models.CampaignSchedule, limiter *rate.Limiter, result *ExecutionResult) bool {
	if ctx.Err() != nil {
		result.Cancelled = true
		return false
	}
	if err := limiter.Wait(ctx); err != nil {
		result.Cancelled = true
		return false
	}
	done := result.SuccessCount + result.FailureCount
	if done > 0 && done%e.controlCheckEvery == 0 && e.executionHalted(ctx, schedule.ID) {
		e.logger.Printf("schedule %d: halted mid-run after %d sends", schedule.ID, done)
		result.Cancelled = true
		return false
	}
	return true
}

// executionHalted re-reads the control flags. A read failure keeps the run
// going; a missing row, a cleared kill switch or a paused or terminal status
// stops it.
func (e *Engine) executionHalted(ctx context.Context, scheduleID uint) bool {
	status, active, err := e.schedules.ControlFlags(ctx, scheduleID)
	if err != nil {
		e.logger.Printf("schedule %d: control flag read failed: %v", scheduleID, err)
		return false
	}
	if status == "" || !active {
		return true
	}
	return status == models.ScheduleStatusPaused || status.Terminal()
}

// sendTo personalizes and dispatches one message. A send failure is charged
// to the recipient and the loop moves on; only context death escapes the
// per-recipient isolation.
func (e *Engine) sendTo(ctx context.Context, schedule *models.CampaignSchedule, campaign *models.Campaign, msg messageContent, sub *models.Subscriber, result *ExecutionResult) {
	payload := NewSubscriberPayload(sub)

	email := &services.EmailMessage{
		To:           sub.Email,
		ToName:       sub.FullName(),
		Subject:      Personalize(msg.subject, payload),
		HTMLBody:     Personalize(msg.htmlBody, payload),
		TextBody:     Personalize(msg.textBody, payload),
		CampaignID:   campaign.ID,
		SubscriberID: sub.ID,
	}
	if campaign.FromName != nil {
		email.FromName = *campaign.FromName
	}
	if campaign.FromEmail != nil {
		email.FromEmail = *campaign.FromEmail
	}
	if campaign.ReplyTo != nil {
		email.ReplyTo = *campaign.ReplyTo
	}

	if err := e.sendWithRetry(ctx, schedule.Settings, email); err != nil {
		if ctx.Err() != nil {
			result.Cancelled = true
			return
		}
		result.FailureCount++
		result.ErrorMessages = append(result.ErrorMessages, fmt.Sprintf("%s: %v", sub.Email, err))
		sendsTotal.WithLabelValues("failed").Inc()
		e.logger.Printf("schedule %d: send to %s failed: %v", schedule.ID, sub.Email, err)
		return
	}
	result.SuccessCount++
	sendsTotal.WithLabelValues("sent").Inc()
}

// sendWithRetry wraps sendOnce in exponential backoff when the schedule opts
// into retries. The attempt budget is per recipient, never shared.
func (e *Engine) sendWithRetry(ctx context.Context, settings models.ScheduleSettings, email *services.EmailMessage) error {
	if !settings.RetryFailures || settings.MaxRetries <= 0 {
		return e.sendOnce(ctx, email)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 0

	operation := func() error {
		return e.sendOnce(ctx, email)
	}
	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, uint64(settings.MaxRetries)), ctx))
}

// sendOnce dispatches one message under the per-send timeout. The dispatcher
// is expected to honor the context; the select protects against one that
// does not.
func (e *Engine) sendOnce(ctx context.Context, email *services.EmailMessage) error {
	sendCtx, cancel := context.WithTimeout(ctx, e.sendTimeout)
	defer cancel()

	type outcome struct {
		result *services.SendResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := e.dispatcher.Send(sendCtx, email)
		done <- outcome{result: res, err: err}
	}()

	select {
	case <-sendCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("send timed out after %s", e.sendTimeout)
	case out := <-done:
		if out.err != nil {
			return out.err
		}
		if out.result == nil {
			return errors.New("dispatcher returned no result")
		}
		if !out.result.Success {
			if out.result.ErrorMessage != "" {
				return errors.New(out.result.ErrorMessage)
			}
			return errors.New("send rejected by dispatcher")
		}
		return nil
	}
}

// sendLimiter builds the per-execution pacing limiter. Without a throttle
// delay the limiter is a no-op.
func (e *Engine) sendLimiter(schedule *models.CampaignSchedule) *rate.Limiter {
	if delay := schedule.Settings.ThrottleDelay(); delay > 0 {
		return rate.NewLimiter(rate.Every(delay), 1)
	}
	return rate.NewLimiter(rate.Inf, 1)
}

func asExecutionError(err error, fallbackCode string) *ExecutionError {
	var exec *ExecutionError
	if errors.As(err, &exec) {
		return exec
	}
	return NewExecutionError(fallbackCode, "execution failed", err)
}

func metricOutcome(r *ExecutionResult) string {
	if r.Cancelled {
		return "cancelled"
	}
	return string(r.Status())
}
