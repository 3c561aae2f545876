package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailtide/mailtide/app/services"
	"github.com/mailtide/mailtide/models"
	testingutil "github.com/mailtide/mailtide/testing"
)

func subscriberIDs(rows []*models.Subscriber) []uint {
	ids := make([]uint, 0, len(rows))
	for _, s := range rows {
		ids = append(ids, s.ID)
	}
	return ids
}

func TestSubscriberRepositoryListRecipients(t *testing.T) {
	testingutil.RunWithDB(t, func(t *testing.T, testDB *testingutil.TestDB) {
		fixtures, customer, _ := seedOwner(t, testDB)
		repo := NewSubscriberRepository(testDB.DB)
		ctx := context.Background()

		group, err := fixtures.CreateTestGroup(customer.ID, "newsletter")
		require.NoError(t, err)
		tag, err := fixtures.CreateTestTag(customer.ID, "vip")
		require.NoError(t, err)

		inGroup, err := fixtures.CreateTestSubscriber(customer.ID)
		require.NoError(t, err)
		require.NoError(t, fixtures.AddToGroup(inGroup, group))

		taggedSub, err := fixtures.CreateTestSubscriber(customer.ID)
		require.NoError(t, err)
		require.NoError(t, fixtures.TagSubscriber(taggedSub, tag))

		both, err := fixtures.CreateTestSubscriber(customer.ID)
		require.NoError(t, err)
		require.NoError(t, fixtures.AddToGroup(both, group))
		require.NoError(t, fixtures.TagSubscriber(both, tag))

		plain, err := fixtures.CreateTestSubscriber(customer.ID)
		require.NoError(t, err)

		unsubscribed, err := fixtures.CreateTestSubscriber(customer.ID)
		require.NoError(t, err)
		require.NoError(t, fixtures.AddToGroup(unsubscribed, group))
		require.NoError(t, testDB.DB.Model(&models.Subscriber{}).
			Where("id = ?", unsubscribed.ID).
			Update("status", models.SubscriberStatusUnsubscribed.String()).Error)

		deleted, err := fixtures.CreateTestSubscriber(customer.ID)
		require.NoError(t, err)
		require.NoError(t, fixtures.AddToGroup(deleted, group))
		require.NoError(t, testDB.DB.Model(&models.Subscriber{}).
			Where("id = ?", deleted.ID).
			Update("is_deleted", true).Error)

		bounced, err := fixtures.CreateTestSubscriber(customer.ID)
		require.NoError(t, err)
		require.NoError(t, fixtures.AddToGroup(bounced, group))
		require.NoError(t, testDB.DB.Model(&models.Subscriber{}).
			Where("id = ?", bounced.ID).
			Update("status", models.SubscriberStatusBounced.String()).Error)

		neighbour, err := fixtures.CreateTestCustomer()
		require.NoError(t, err)
		_, err = fixtures.CreateTestSubscriber(neighbour.ID)
		require.NoError(t, err)

		everyone, err := repo.ListRecipients(ctx, customer.ID, models.Targeting{}, nil)
		require.NoError(t, err)
		assert.Equal(t, []uint{inGroup.ID, taggedSub.ID, both.ID, plain.ID, bounced.ID}, subscriberIDs(everyone),
			"empty targeting matches every sendable subscriber of the customer, in id order")

		groupOnly, err := repo.ListRecipients(ctx, customer.ID, models.Targeting{GroupIDs: []uint{group.ID}}, nil)
		require.NoError(t, err)
		assert.Equal(t, []uint{inGroup.ID, both.ID, bounced.ID}, subscriberIDs(groupOnly))

		tagOnly, err := repo.ListRecipients(ctx, customer.ID, models.Targeting{TagIDs: []uint{tag.ID}}, nil)
		require.NoError(t, err)
		assert.Equal(t, []uint{taggedSub.ID, both.ID}, subscriberIDs(tagOnly))

		intersection, err := repo.ListRecipients(ctx, customer.ID, models.Targeting{
			GroupIDs: []uint{group.ID},
			TagIDs:   []uint{tag.ID},
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, []uint{both.ID}, subscriberIDs(intersection), "the default policy intersects categories")

		union, err := repo.ListRecipients(ctx, customer.ID, models.Targeting{
			GroupIDs: []uint{group.ID},
			TagIDs:   []uint{tag.ID},
			Match:    models.TargetingMatchAny,
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, []uint{inGroup.ID, taggedSub.ID, both.ID, bounced.ID}, subscriberIDs(union))
	})
}

func TestSubscriberRepositoryListRecipientsWithSegments(t *testing.T) {
	testingutil.RunWithDB(t, func(t *testing.T, testDB *testingutil.TestDB) {
		fixtures, customer, _ := seedOwner(t, testDB)
		repo := NewSubscriberRepository(testDB.DB)
		segmentation := services.NewSegmentationService()
		ctx := context.Background()

		pro, err := fixtures.CreateTestSubscriberWithFields(customer.ID, "pro@example.com", models.CustomFields{"plan": "pro"})
		require.NoError(t, err)
		_, err = fixtures.CreateTestSubscriberWithFields(customer.ID, "free@example.com", models.CustomFields{"plan": "free"})
		require.NoError(t, err)
		enterprise, err := fixtures.CreateTestSubscriberWithFields(customer.ID, "enterprise@example.com", models.CustomFields{"plan": "enterprise", "seats": 40})
		require.NoError(t, err)

		proPredicate, err := segmentation.BuildPredicate(&models.Segment{
			Name:  "Pros",
			Match: models.SegmentMatchAll,
			Rules: models.SegmentRules{{Field: "custom.plan", Operator: models.ConditionOperatorEquals, Value: "pro"}},
		})
		require.NoError(t, err)

		rows, err := repo.ListRecipients(ctx, customer.ID, models.Targeting{}, []models.SegmentPredicate{*proPredicate})
		require.NoError(t, err)
		assert.Equal(t, []uint{pro.ID}, subscriberIDs(rows))

		bigPredicate, err := segmentation.BuildPredicate(&models.Segment{
			Name:  "Big accounts",
			Match: models.SegmentMatchAll,
			Rules: models.SegmentRules{{Field: "custom.seats", Operator: models.ConditionOperatorGreaterThan, Value: 20}},
		})
		require.NoError(t, err)

		rows, err = repo.ListRecipients(ctx, customer.ID, models.Targeting{}, []models.SegmentPredicate{*proPredicate, *bigPredicate})
		require.NoError(t, err)
		assert.Equal(t, []uint{pro.ID, enterprise.ID}, subscriberIDs(rows), "multiple segments union their members")
	})
}

func TestSubscriberRepositoryByEmail(t *testing.T) {
	testingutil.RunWithDB(t, func(t *testing.T, testDB *testingutil.TestDB) {
		fixtures, customer, _ := seedOwner(t, testDB)
		repo := NewSubscriberRepository(testDB.DB)
		ctx := context.Background()

		sub, err := fixtures.CreateTestSubscriber(customer.ID)
		require.NoError(t, err)

		got, err := repo.ByEmail(ctx, customer.ID, sub.Email)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, sub.ID, got.ID)

		missing, err := repo.ByEmail(ctx, customer.ID, "ghost@example.com")
		require.NoError(t, err)
		assert.Nil(t, missing)

		neighbour, err := fixtures.CreateTestCustomer()
		require.NoError(t, err)
		crossTenant, err := repo.ByEmail(ctx, neighbour.ID, sub.Email)
		require.NoError(t, err)
		assert.Nil(t, crossTenant, "addresses do not leak across customers")
	})
}
