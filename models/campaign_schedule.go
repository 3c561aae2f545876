package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mailtide/mailtide/utils"
	"gorm.io/gorm"
)

// ScheduleType represents the kind of a campaign schedule. It is fixed at
// creation and never changes afterwards.
type ScheduleType string

const (
	ScheduleTypeImmediate ScheduleType = "immediate"
	ScheduleTypeScheduled ScheduleType = "scheduled"
	ScheduleTypeRecurring ScheduleType = "recurring"
	ScheduleTypeDrip      ScheduleType = "drip"
	ScheduleTypeTrigger   ScheduleType = "trigger"
)

// String returns the string representation of the type
func (t ScheduleType) String() string {
	return string(t)
}

// Valid checks if the type is valid
func (t ScheduleType) Valid() bool {
	switch t {
	case ScheduleTypeImmediate, ScheduleTypeScheduled, ScheduleTypeRecurring,
		ScheduleTypeDrip, ScheduleTypeTrigger:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for ScheduleType
func (t *ScheduleType) Scan(value any) error {
	if value == nil {
		*t = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*t = ScheduleType(v)
	case []byte:
		*t = ScheduleType(string(v))
	default:
		return fmt.Errorf("cannot scan %T into ScheduleType", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for ScheduleType
func (t ScheduleType) Value() (driver.Value, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid ScheduleType: %s", t)
	}
	return string(t), nil
}

// ScheduleStatus represents the lifecycle state of a campaign schedule
type ScheduleStatus string

const (
	ScheduleStatusDraft     ScheduleStatus = "draft"
	ScheduleStatusScheduled ScheduleStatus = "scheduled"
	ScheduleStatusRunning   ScheduleStatus = "running"
	ScheduleStatusPaused    ScheduleStatus = "paused"
	ScheduleStatusCompleted ScheduleStatus = "completed"
	ScheduleStatusCancelled ScheduleStatus = "cancelled"
	ScheduleStatusFailed    ScheduleStatus = "failed"
)

// String returns the string representation of the status
func (s ScheduleStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s ScheduleStatus) Valid() bool {
	switch s {
	case ScheduleStatusDraft, ScheduleStatusScheduled, ScheduleStatusRunning,
		ScheduleStatusPaused, ScheduleStatusCompleted, ScheduleStatusCancelled,
		ScheduleStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal checks if the status admits no further executions
func (s ScheduleStatus) Terminal() bool {
	switch s {
	case ScheduleStatusCompleted, ScheduleStatusCancelled, ScheduleStatusFailed:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for ScheduleStatus
func (s *ScheduleStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = ScheduleStatus(v)
	case []byte:
		*s = ScheduleStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into ScheduleStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for ScheduleStatus
func (s ScheduleStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid ScheduleStatus: %s", s)
	}
	return string(s), nil
}

// RecurrenceUnit represents the calendar unit of a recurrence rule
type RecurrenceUnit string

const (
	RecurrenceUnitDaily   RecurrenceUnit = "daily"
	RecurrenceUnitWeekly  RecurrenceUnit = "weekly"
	RecurrenceUnitMonthly RecurrenceUnit = "monthly"
	RecurrenceUnitYearly  RecurrenceUnit = "yearly"
)

// Valid checks if the unit is valid
func (u RecurrenceUnit) Valid() bool {
	switch u {
	case RecurrenceUnitDaily, RecurrenceUnitWeekly, RecurrenceUnitMonthly, RecurrenceUnitYearly:
		return true
	default:
		return false
	}
}

// DelayUnit represents a fixed-multiplier delay unit used by drip steps and
// trigger rules. No calendar arithmetic is involved at this granularity.
type DelayUnit string

const (
	DelayUnitMinutes DelayUnit = "minutes"
	DelayUnitHours   DelayUnit = "hours"
	DelayUnitDays    DelayUnit = "days"
	DelayUnitWeeks   DelayUnit = "weeks"
)

// Valid checks if the unit is valid
func (u DelayUnit) Valid() bool {
	switch u {
	case DelayUnitMinutes, DelayUnitHours, DelayUnitDays, DelayUnitWeeks:
		return true
	default:
		return false
	}
}

// Duration converts n units into a time.Duration. Unknown units fall back to
// minutes so a zero-delay rule without a unit stays harmless.
func (u DelayUnit) Duration(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	switch u {
	case DelayUnitHours:
		return time.Duration(n) * time.Hour
	case DelayUnitDays:
		return time.Duration(n) * 24 * time.Hour
	case DelayUnitWeeks:
		return time.Duration(n) * 7 * 24 * time.Hour
	default:
		return time.Duration(n) * time.Minute
	}
}

// ConditionOperator represents a comparison operator used by schedule conditions
type ConditionOperator string

const (
	ConditionOperatorEquals      ConditionOperator = "equals"
	ConditionOperatorNotEquals   ConditionOperator = "not_equals"
	ConditionOperatorContains    ConditionOperator = "contains"
	ConditionOperatorNotContains ConditionOperator = "not_contains"
	ConditionOperatorGreaterThan ConditionOperator = "greater_than"
	ConditionOperatorLessThan    ConditionOperator = "less_than"
	ConditionOperatorExists      ConditionOperator = "exists"
	ConditionOperatorNotExists   ConditionOperator = "not_exists"
)

// Valid checks if the operator is valid
func (o ConditionOperator) Valid() bool {
	switch o {
	case ConditionOperatorEquals, ConditionOperatorNotEquals,
		ConditionOperatorContains, ConditionOperatorNotContains,
		ConditionOperatorGreaterThan, ConditionOperatorLessThan,
		ConditionOperatorExists, ConditionOperatorNotExists:
		return true
	default:
		return false
	}
}

// Condition is a single field comparison. A list of conditions is always
// evaluated conjunctively.
type Condition struct {
	Field    string            `json:"field" validate:"required"`
	Operator ConditionOperator `json:"operator" validate:"required,oneof=equals not_equals contains not_contains greater_than less_than exists not_exists"`
	Value    any               `json:"value,omitempty"`
}

// RecurrenceRule represents the JSON recurrence configuration of a recurring schedule
type RecurrenceRule struct {
	Unit           RecurrenceUnit `json:"unit" validate:"required,oneof=daily weekly monthly yearly"`
	Interval       int            `json:"interval" validate:"required,min=1"`
	DaysOfWeek     []int          `json:"days_of_week,omitempty" validate:"omitempty,dive,min=0,max=6"`
	DayOfMonth     *int           `json:"day_of_month,omitempty" validate:"omitempty,min=1,max=31"`
	EndDate        *time.Time     `json:"end_date,omitempty"`
	MaxOccurrences *int           `json:"max_occurrences,omitempty" validate:"omitempty,min=1"`
}

// Value implements the driver.Valuer interface for RecurrenceRule
func (r RecurrenceRule) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Scan implements the sql.Scanner interface for RecurrenceRule
func (r *RecurrenceRule) Scan(value any) error {
	if value == nil {
		*r = RecurrenceRule{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into RecurrenceRule", value)
	}

	return json.Unmarshal(bytes, r)
}

// DripStep is a single step of a drip sequence. The delay is measured from the
// moment a recipient entered the previous step, not from schedule creation.
type DripStep struct {
	Delay           int         `json:"delay" validate:"min=0"`
	DelayUnit       DelayUnit   `json:"delay_unit,omitempty" validate:"omitempty,oneof=minutes hours days weeks"`
	TemplateRef     string      `json:"template_ref" validate:"required"`
	SubjectOverride *string     `json:"subject_override,omitempty"`
	Conditions      []Condition `json:"conditions,omitempty" validate:"omitempty,dive"`
}

// Wait returns the step's delay as a duration
func (s DripStep) Wait() time.Duration {
	return s.DelayUnit.Duration(s.Delay)
}

// DripSequence is the ordered list of drip steps stored as JSONB
type DripSequence []DripStep

// Value implements the driver.Valuer interface for DripSequence
func (d DripSequence) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(d)
}

// Scan implements the sql.Scanner interface for DripSequence
func (d *DripSequence) Scan(value any) error {
	if value == nil {
		*d = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into DripSequence", value)
	}

	return json.Unmarshal(bytes, d)
}

// TriggerEvent names a domain event a trigger rule can react to
type TriggerEvent string

const (
	TriggerEventSubscriberAdded TriggerEvent = "subscriber_added"
	TriggerEventTagAdded        TriggerEvent = "tag_added"
)

// Valid checks if the event is valid
func (e TriggerEvent) Valid() bool {
	switch e {
	case TriggerEventSubscriberAdded, TriggerEventTagAdded:
		return true
	default:
		return false
	}
}

// TriggerRule binds a domain event to a deferred execution. A zero delay fires
// as soon as the queue is drained.
type TriggerRule struct {
	Event      TriggerEvent `json:"event" validate:"required,oneof=subscriber_added tag_added"`
	Conditions []Condition  `json:"conditions,omitempty" validate:"omitempty,dive"`
	Delay      int          `json:"delay" validate:"min=0"`
	DelayUnit  DelayUnit    `json:"delay_unit,omitempty" validate:"omitempty,oneof=minutes hours days weeks"`
}

// Wait returns the rule's delay as a duration
func (r TriggerRule) Wait() time.Duration {
	return r.DelayUnit.Duration(r.Delay)
}

// TriggerRules is the list of trigger rules stored as JSONB
type TriggerRules []TriggerRule

// HasEvent checks if any rule reacts to the given event
func (t TriggerRules) HasEvent(event TriggerEvent) bool {
	for _, r := range t {
		if r.Event == event {
			return true
		}
	}
	return false
}

// Value implements the driver.Valuer interface for TriggerRules
func (t TriggerRules) Value() (driver.Value, error) {
	if t == nil {
		return nil, nil
	}
	return json.Marshal(t)
}

// Scan implements the sql.Scanner interface for TriggerRules
func (t *TriggerRules) Scan(value any) error {
	if value == nil {
		*t = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into TriggerRules", value)
	}

	return json.Unmarshal(bytes, t)
}

// TargetingMatch represents how group, tag and segment filters combine with
// each other. Within one category membership is always OR.
type TargetingMatch string

const (
	TargetingMatchAll TargetingMatch = "all"
	TargetingMatchAny TargetingMatch = "any"
)

// Targeting represents the JSON audience selection of a schedule
type Targeting struct {
	GroupIDs   []uint         `json:"group_ids,omitempty"`
	TagIDs     []uint         `json:"tag_ids,omitempty"`
	SegmentIDs []uint         `json:"segment_ids,omitempty"`
	Match      TargetingMatch `json:"match,omitempty" validate:"omitempty,oneof=all any"`
}

// Empty checks if no audience filter is configured
func (t Targeting) Empty() bool {
	return len(t.GroupIDs) == 0 && len(t.TagIDs) == 0 && len(t.SegmentIDs) == 0
}

// MatchAll reports whether categories combine conjunctively. The zero value
// defaults to "all".
func (t Targeting) MatchAll() bool {
	return t.Match != TargetingMatchAny
}

// Value implements the driver.Valuer interface for Targeting
func (t Targeting) Value() (driver.Value, error) {
	return json.Marshal(t)
}

// Scan implements the sql.Scanner interface for Targeting
func (t *Targeting) Scan(value any) error {
	if value == nil {
		*t = Targeting{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Targeting", value)
	}

	return json.Unmarshal(bytes, t)
}

// ScheduleSettings represents the JSON per-schedule execution settings
type ScheduleSettings struct {
	MaxRecipientsPerExecution int  `json:"max_recipients_per_execution,omitempty" validate:"min=0"`
	ThrottleDelayMs           int  `json:"throttle_delay_ms,omitempty" validate:"min=0"`
	RetryFailures             bool `json:"retry_failures,omitempty"`
	MaxRetries                int  `json:"max_retries,omitempty" validate:"min=0"`
	TrackOpens                bool `json:"track_opens,omitempty"`
	TrackClicks               bool `json:"track_clicks,omitempty"`
}

// ThrottleDelay returns the inter-recipient pause as a duration
func (s ScheduleSettings) ThrottleDelay() time.Duration {
	if s.ThrottleDelayMs <= 0 {
		return 0
	}
	return time.Duration(s.ThrottleDelayMs) * time.Millisecond
}

// Value implements the driver.Valuer interface for ScheduleSettings
func (s ScheduleSettings) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements the sql.Scanner interface for ScheduleSettings
func (s *ScheduleSettings) Scan(value any) error {
	if value == nil {
		*s = ScheduleSettings{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into ScheduleSettings", value)
	}

	return json.Unmarshal(bytes, s)
}

// ScheduleStats holds the aggregate counters of a schedule. The columns are
// only ever changed through atomic SQL increments inside RecordExecution so
// concurrent executions never lose updates.
type ScheduleStats struct {
	TotalExecutions int64      `gorm:"not null;default:0" json:"total_executions"`
	TotalRecipients int64      `gorm:"not null;default:0" json:"total_recipients"`
	TotalSent       int64      `gorm:"not null;default:0" json:"total_sent"`
	TotalDelivered  int64      `gorm:"not null;default:0" json:"total_delivered"`
	TotalOpened     int64      `gorm:"not null;default:0" json:"total_opened"`
	TotalClicked    int64      `gorm:"not null;default:0" json:"total_clicked"`
	LastExecuted    *time.Time `json:"last_executed,omitempty"`
	NextExecution   *time.Time `gorm:"index:idx_campaign_schedules_next_execution" json:"next_execution,omitempty"`
}

// CampaignSchedule represents a campaign schedule in the database. It is the
// central entity of the automation engine: created by the authoring surface,
// mutated exclusively by the engine afterwards, never deleted here.
type CampaignSchedule struct {
	ID            uint             `gorm:"primaryKey" json:"id"`
	UUID          uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex:uk_campaign_schedules_uuid" json:"uuid"`
	CustomerID    uint             `gorm:"not null;index:idx_campaign_schedules_customer_id" json:"customer_id"`
	CampaignID    uint             `gorm:"not null;index:idx_campaign_schedules_campaign_id" json:"campaign_id"`
	Name          *string          `gorm:"type:varchar(255)" json:"name,omitempty"`
	ScheduleType  ScheduleType     `gorm:"type:varchar(20);not null;index:idx_campaign_schedules_type_status,priority:1" json:"schedule_type"`
	Status        ScheduleStatus   `gorm:"type:varchar(20);not null;default:'draft';index:idx_campaign_schedules_type_status,priority:2;index:idx_campaign_schedules_status_date,priority:1" json:"status"`
	ScheduledDate *time.Time       `gorm:"index:idx_campaign_schedules_status_date,priority:2" json:"scheduled_date,omitempty"`
	Recurrence    *RecurrenceRule  `gorm:"type:jsonb" json:"recurrence,omitempty"`
	DripSequence  DripSequence     `gorm:"type:jsonb" json:"drip_sequence,omitempty" validate:"omitempty,dive"`
	Triggers      TriggerRules     `gorm:"type:jsonb" json:"triggers,omitempty" validate:"omitempty,dive"`
	Targeting     Targeting        `gorm:"type:jsonb;not null" json:"targeting"`
	Settings      ScheduleSettings `gorm:"type:jsonb;not null" json:"settings"`
	Stats         ScheduleStats    `gorm:"embedded;embeddedPrefix:stats_" json:"stats"`
	IsActive      *bool            `gorm:"not null;default:true;index:idx_campaign_schedules_is_active" json:"is_active"`
	CreatedAt     time.Time        `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt     *time.Time       `json:"updated_at,omitempty"`

	// Relations
	Campaign   *Campaign         `gorm:"foreignKey:CampaignID;references:ID" json:"campaign,omitempty"`
	Executions []ExecutionRecord `gorm:"foreignKey:ScheduleID;references:ID" json:"executions,omitempty"`
}

// TableName returns the table name for the model
func (CampaignSchedule) TableName() string {
	return "campaign_schedules"
}

// BeforeCreate is called before creating a new record
func (s *CampaignSchedule) BeforeCreate(tx *gorm.DB) error {
	if s.UUID == uuid.Nil {
		s.UUID = uuid.New()
	}
	if s.Status == "" {
		s.Status = ScheduleStatusDraft
	}
	if s.IsActive == nil {
		s.IsActive = utils.ToPtr(true)
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = utils.UTCNow()
	}
	return nil
}

// BeforeUpdate is called before updating a record
func (s *CampaignSchedule) BeforeUpdate(tx *gorm.DB) error {
	now := utils.UTCNow()
	s.UpdatedAt = &now
	return nil
}

// Active checks the kill switch. It is independent of Status.
func (s *CampaignSchedule) Active() bool {
	return utils.IsTrue(s.IsActive)
}

// DueAt checks if the schedule is due for a poller-driven execution at the
// given instant. Trigger schedules are never due by wall clock.
func (s *CampaignSchedule) DueAt(now time.Time) bool {
	if !s.Active() || s.ScheduleType == ScheduleTypeTrigger {
		return false
	}
	switch s.Status {
	case ScheduleStatusScheduled:
		return s.ScheduledDate != nil && !s.ScheduledDate.After(now)
	case ScheduleStatusRunning:
		return s.Stats.NextExecution != nil && !s.Stats.NextExecution.After(now)
	default:
		return false
	}
}

// RecurrenceExhausted checks if a recurring schedule has passed its end date
// or reached its maximum number of occurrences.
func (s *CampaignSchedule) RecurrenceExhausted(now time.Time) bool {
	if s.Recurrence == nil {
		return false
	}
	if s.Recurrence.EndDate != nil && now.After(*s.Recurrence.EndDate) {
		return true
	}
	if s.Recurrence.MaxOccurrences != nil && s.Stats.TotalExecutions >= int64(*s.Recurrence.MaxOccurrences) {
		return true
	}
	return false
}

// CanTransitionTo checks if the schedule can transition to the given status
func (s *CampaignSchedule) CanTransitionTo(newStatus ScheduleStatus) bool {
	switch s.Status {
	case ScheduleStatusDraft:
		return newStatus == ScheduleStatusScheduled ||
			newStatus == ScheduleStatusRunning ||
			newStatus == ScheduleStatusCancelled
	case ScheduleStatusScheduled:
		return newStatus == ScheduleStatusRunning ||
			newStatus == ScheduleStatusPaused ||
			newStatus == ScheduleStatusCompleted ||
			newStatus == ScheduleStatusCancelled
	case ScheduleStatusRunning:
		return newStatus == ScheduleStatusPaused ||
			newStatus == ScheduleStatusCompleted ||
			newStatus == ScheduleStatusCancelled ||
			newStatus == ScheduleStatusFailed
	case ScheduleStatusPaused:
		return newStatus == ScheduleStatusRunning ||
			newStatus == ScheduleStatusCancelled
	default:
		return false
	}
}

// CampaignScheduleFilter represents filter criteria for campaign schedules
type CampaignScheduleFilter struct {
	ID                  *uint           `json:"id,omitempty"`
	UUID                *uuid.UUID      `json:"uuid,omitempty"`
	CustomerID          *uint           `json:"customer_id,omitempty"`
	CampaignID          *uint           `json:"campaign_id,omitempty"`
	ScheduleType        *ScheduleType   `json:"schedule_type,omitempty"`
	Status              *ScheduleStatus `json:"status,omitempty"`
	IsActive            *bool           `json:"is_active,omitempty"`
	TriggerEvent        *TriggerEvent   `json:"trigger_event,omitempty"`
	ScheduledBefore     *time.Time      `json:"scheduled_before,omitempty"`
	NextExecutionBefore *time.Time      `json:"next_execution_before,omitempty"`
	CreatedAfter        *time.Time      `json:"created_after,omitempty"`
	CreatedBefore       *time.Time      `json:"created_before,omitempty"`
}
