// Package testing provides test utilities and database setup for exercising
// the engine against a real PostgreSQL instance
package testing

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/mailtide/mailtide/models"
	"github.com/mailtide/mailtide/utils"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// CreateTestCustomer creates a customer account to own the rest of the data
func (tf *TestFixtures) CreateTestCustomer() (*models.Customer, error) {
	customer := &models.Customer{
		Email:       fmt.Sprintf("owner.%d@example.com", rand.Intn(10000000)),
		CompanyName: utils.ToPtr("Acme Mailing Ltd"),
		IsActive:    utils.ToPtr(true),
	}

	if err := tf.DB.DB.Create(customer).Error; err != nil {
		return nil, fmt.Errorf("failed to create test customer: %w", err)
	}

	return customer, nil
}

// CreateTestSubscriber creates an active subscriber with a unique address
func (tf *TestFixtures) CreateTestSubscriber(customerID uint) (*models.Subscriber, error) {
	n := rand.Intn(10000000)
	subscriber := &models.Subscriber{
		CustomerID: customerID,
		Email:      fmt.Sprintf("subscriber.%d@example.com", n),
		FirstName:  utils.ToPtr("Jane"),
		LastName:   utils.ToPtr(fmt.Sprintf("Doe%d", n)),
		Status:     models.SubscriberStatusActive,
	}

	if err := tf.DB.DB.Create(subscriber).Error; err != nil {
		return nil, fmt.Errorf("failed to create test subscriber: %w", err)
	}

	return subscriber, nil
}

// CreateTestSubscriberWithFields creates a subscriber carrying custom fields
func (tf *TestFixtures) CreateTestSubscriberWithFields(customerID uint, email string, fields models.CustomFields) (*models.Subscriber, error) {
	subscriber := &models.Subscriber{
		CustomerID:   customerID,
		Email:        email,
		Status:       models.SubscriberStatusActive,
		CustomFields: fields,
	}

	if err := tf.DB.DB.Create(subscriber).Error; err != nil {
		return nil, fmt.Errorf("failed to create test subscriber %s: %w", email, err)
	}

	return subscriber, nil
}

// CreateMultipleTestSubscribers creates count active subscribers for a customer
func (tf *TestFixtures) CreateMultipleTestSubscribers(customerID uint, count int) ([]*models.Subscriber, error) {
	var subscribers []*models.Subscriber
	for i := 0; i < count; i++ {
		subscriber, err := tf.CreateTestSubscriber(customerID)
		if err != nil {
			return nil, fmt.Errorf("failed to create subscriber %d: %w", i, err)
		}
		subscribers = append(subscribers, subscriber)
	}
	return subscribers, nil
}

// CreateTestGroup creates a named group for the customer
func (tf *TestFixtures) CreateTestGroup(customerID uint, name string) (*models.Group, error) {
	group := &models.Group{
		CustomerID: customerID,
		Name:       name,
		IsActive:   utils.ToPtr(true),
	}

	if err := tf.DB.DB.Create(group).Error; err != nil {
		return nil, fmt.Errorf("failed to create test group %s: %w", name, err)
	}

	return group, nil
}

// CreateTestTag creates a named tag for the customer
func (tf *TestFixtures) CreateTestTag(customerID uint, name string) (*models.Tag, error) {
	tag := &models.Tag{
		CustomerID: customerID,
		Name:       name,
		IsActive:   utils.ToPtr(true),
	}

	if err := tf.DB.DB.Create(tag).Error; err != nil {
		return nil, fmt.Errorf("failed to create test tag %s: %w", name, err)
	}

	return tag, nil
}

// AddToGroup places a subscriber into a group
func (tf *TestFixtures) AddToGroup(subscriber *models.Subscriber, group *models.Group) error {
	if err := tf.DB.DB.Model(subscriber).Association("Groups").Append(group); err != nil {
		return fmt.Errorf("failed to add subscriber %d to group %d: %w", subscriber.ID, group.ID, err)
	}
	return nil
}

// TagSubscriber attaches a tag to a subscriber
func (tf *TestFixtures) TagSubscriber(subscriber *models.Subscriber, tag *models.Tag) error {
	if err := tf.DB.DB.Model(subscriber).Association("Tags").Append(tag); err != nil {
		return fmt.Errorf("failed to tag subscriber %d with %d: %w", subscriber.ID, tag.ID, err)
	}
	return nil
}

// CreateTestSegment creates a stored segment from the given rules
func (tf *TestFixtures) CreateTestSegment(customerID uint, name string, match models.SegmentMatch, rules models.SegmentRules) (*models.Segment, error) {
	segment := &models.Segment{
		CustomerID: customerID,
		Name:       name,
		Rules:      rules,
		Match:      match,
		IsActive:   utils.ToPtr(true),
	}

	if err := tf.DB.DB.Create(segment).Error; err != nil {
		return nil, fmt.Errorf("failed to create test segment %s: %w", name, err)
	}

	return segment, nil
}

// CreateTestCampaign creates a campaign with personalization placeholders in
// the subject and body
func (tf *TestFixtures) CreateTestCampaign(customerID uint) (*models.Campaign, error) {
	campaign := &models.Campaign{
		CustomerID: customerID,
		Name:       fmt.Sprintf("Campaign %d", rand.Intn(10000000)),
		Subject:    "Hello {{first_name}}",
		HTMLBody:   "<p>Welcome, {{name}}!</p>",
		TextBody:   "Welcome, {{name}}!",
		FromName:   utils.ToPtr("Acme Mailing"),
		FromEmail:  utils.ToPtr("news@example.com"),
	}

	if err := tf.DB.DB.Create(campaign).Error; err != nil {
		return nil, fmt.Errorf("failed to create test campaign: %w", err)
	}

	return campaign, nil
}

// CreateTestTemplate creates a template addressable by ref
func (tf *TestFixtures) CreateTestTemplate(customerID uint, ref string) (*models.Template, error) {
	template := &models.Template{
		CustomerID: customerID,
		Ref:        ref,
		Name:       "Template " + ref,
		Subject:    "Step " + ref,
		HTMLBody:   "<p>Step " + ref + " for {{first_name}}</p>",
		TextBody:   "Step " + ref + " for {{first_name}}",
	}

	if err := tf.DB.DB.Create(template).Error; err != nil {
		return nil, fmt.Errorf("failed to create test template %s: %w", ref, err)
	}

	return template, nil
}

// CreateTestSchedule creates a running one-shot schedule that became due a
// minute ago, targeting the customer's whole audience
func (tf *TestFixtures) CreateTestSchedule(customerID, campaignID uint) (*models.CampaignSchedule, error) {
	schedule := &models.CampaignSchedule{
		CustomerID:    customerID,
		CampaignID:    campaignID,
		Name:          utils.ToPtr(fmt.Sprintf("Schedule %d", rand.Intn(10000000))),
		ScheduleType:  models.ScheduleTypeScheduled,
		Status:        models.ScheduleStatusRunning,
		ScheduledDate: utils.UTCNowAddPtr(-1 * time.Minute),
		Targeting:     models.Targeting{},
		IsActive:      utils.ToPtr(true),
	}
	schedule.Stats.NextExecution = schedule.ScheduledDate

	if err := tf.DB.DB.Create(schedule).Error; err != nil {
		return nil, fmt.Errorf("failed to create test schedule: %w", err)
	}

	return schedule, nil
}

// CreateTestDripSchedule creates a running drip schedule with the given steps
func (tf *TestFixtures) CreateTestDripSchedule(customerID, campaignID uint, steps models.DripSequence) (*models.CampaignSchedule, error) {
	schedule := &models.CampaignSchedule{
		CustomerID:   customerID,
		CampaignID:   campaignID,
		Name:         utils.ToPtr(fmt.Sprintf("Drip %d", rand.Intn(10000000))),
		ScheduleType: models.ScheduleTypeDrip,
		Status:       models.ScheduleStatusRunning,
		DripSequence: steps,
		Targeting:    models.Targeting{},
		IsActive:     utils.ToPtr(true),
	}
	schedule.Stats.NextExecution = utils.UTCNowAddPtr(-1 * time.Minute)

	if err := tf.DB.DB.Create(schedule).Error; err != nil {
		return nil, fmt.Errorf("failed to create test drip schedule: %w", err)
	}

	return schedule, nil
}
