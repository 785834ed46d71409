package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tgpromo/promobot/internal/config"
	"github.com/tgpromo/promobot/internal/events"
	"github.com/tgpromo/promobot/internal/models"
	"github.com/tgpromo/promobot/internal/oracle"
)

func testConfig() *config.Config {
	return &config.Config{
		AdminID:             99,
		ReconcileInterval:   40 * time.Second,
		OracleTimeout:       time.Second,
		NormalChannelPoints: 3,
		VIPChannelPoints:    4,
	}
}

func activeChannel(id int64, username string, tier models.ChannelTier, target, count int) *models.Channel {
	return &models.Channel{
		ID:            id,
		Username:      username,
		Tier:          tier,
		Target:        target,
		VerifiedCount: count,
		Active:        true,
	}
}

func activeSub(userID, channelID, credited int64) *models.Subscription {
	return &models.Subscription{
		UserID:         userID,
		ChannelID:      channelID,
		State:          models.SubscriptionStateActive,
		CreditedPoints: credited,
	}
}

func TestSweep_MemberConfirmed_NoChanges(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	pub := &recordingPublisher{}
	orc := newScriptedOracle()

	ch := activeChannel(1, "promo", models.ChannelTierNormal, 10, 1)
	orc.set(42, "promo", oracle.Member)

	store.On("ChannelsToReconcile", ctx).Return([]*models.Channel{ch}, nil)
	store.On("ActiveSubscriptionsForChannel", ctx, int64(1)).
		Return([]*models.Subscription{activeSub(42, 1, 3)}, nil)

	r := New(testConfig(), store, orc, pub)
	require.NoError(t, r.Sweep(ctx))

	// Running the same sweep again with the same oracle answer produces no
	// deltas or events either time.
	require.NoError(t, r.Sweep(ctx))

	store.AssertNotCalled(t, "RecordDeparture")
	assert.Empty(t, pub.all())
}

func TestSweep_DepartureConfirmed_PenalizedOnce(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	pub := &recordingPublisher{}
	orc := newScriptedOracle()

	ch := activeChannel(1, "promo", models.ChannelTierVIP, 5, 3)
	orc.set(42, "promo", oracle.NotMember)

	store.On("ChannelsToReconcile", ctx).Return([]*models.Channel{ch}, nil)
	store.On("ActiveSubscriptionsForChannel", ctx, int64(1)).
		Return([]*models.Subscription{activeSub(42, 1, 4)}, nil)
	store.On("RecordDeparture", ctx, int64(42), int64(1)).Return(int64(4), true, nil)

	r := New(testConfig(), store, orc, pub)
	require.NoError(t, r.Sweep(ctx))

	published := pub.all()
	require.Len(t, published, 1)
	left, ok := published[0].(events.Left)
	require.True(t, ok)
	assert.Equal(t, int64(42), left.UserID)
	assert.Equal(t, "promo", left.ChannelUsername)
	assert.Equal(t, int64(4), left.Penalty)

	store.AssertExpectations(t)
}

func TestSweep_DepartureRaceLost_EventDiscarded(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	pub := &recordingPublisher{}
	orc := newScriptedOracle()

	ch := activeChannel(1, "promo", models.ChannelTierNormal, 5, 1)
	orc.set(42, "promo", oracle.NotMember)

	store.On("ChannelsToReconcile", ctx).Return([]*models.Channel{ch}, nil)
	store.On("ActiveSubscriptionsForChannel", ctx, int64(1)).
		Return([]*models.Subscription{activeSub(42, 1, 3)}, nil)
	// A concurrent on-demand check already flipped the pair.
	store.On("RecordDeparture", ctx, int64(42), int64(1)).Return(int64(0), false, nil)

	r := New(testConfig(), store, orc, pub)
	require.NoError(t, r.Sweep(ctx))

	assert.Empty(t, pub.all())
}

func TestSweep_UnknownOracle_NoStateChange(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	pub := &recordingPublisher{}
	orc := newScriptedOracle() // unscripted pairs answer Unknown

	ch := activeChannel(1, "promo", models.ChannelTierNormal, 5, 1)

	store.On("ChannelsToReconcile", ctx).Return([]*models.Channel{ch}, nil)
	store.On("ActiveSubscriptionsForChannel", ctx, int64(1)).
		Return([]*models.Subscription{activeSub(42, 1, 3)}, nil)

	r := New(testConfig(), store, orc, pub)
	require.NoError(t, r.Sweep(ctx))

	store.AssertNotCalled(t, "RecordDeparture")
	assert.Empty(t, pub.all())
}

func TestSweep_OneChannelFailing_OthersStillChecked(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	pub := &recordingPublisher{}
	orc := newScriptedOracle()

	broken := activeChannel(1, "broken", models.ChannelTierNormal, 5, 1)
	healthy := activeChannel(2, "healthy", models.ChannelTierNormal, 5, 1)
	orc.set(42, "healthy", oracle.NotMember)

	store.On("ChannelsToReconcile", ctx).Return([]*models.Channel{broken, healthy}, nil)
	store.On("ActiveSubscriptionsForChannel", ctx, int64(1)).
		Return(nil, errors.New("db hiccup"))
	store.On("ActiveSubscriptionsForChannel", ctx, int64(2)).
		Return([]*models.Subscription{activeSub(42, 2, 3)}, nil)
	store.On("RecordDeparture", ctx, int64(42), int64(2)).Return(int64(3), true, nil)

	r := New(testConfig(), store, orc, pub)
	require.NoError(t, r.Sweep(ctx))

	assert.Len(t, pub.all(), 1)
	store.AssertExpectations(t)
}

func TestSweep_PendingOrderAlreadyAtTarget_CompletionRecovered(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	pub := &recordingPublisher{}
	orc := newScriptedOracle()

	orderID := int64(7)
	ch := activeChannel(1, "promo", models.ChannelTierNormal, 2, 2)
	ch.OrderID = &orderID
	orc.set(42, "promo", oracle.Member)

	order := &models.Order{ID: orderID, OwnerID: 5, ChannelID: 1, Target: 2, Status: models.OrderStatusCompleted}

	store.On("ChannelsToReconcile", ctx).Return([]*models.Channel{ch}, nil)
	store.On("ActiveSubscriptionsForChannel", ctx, int64(1)).
		Return([]*models.Subscription{activeSub(42, 1, 3)}, nil)
	store.On("CompleteOrder", ctx, orderID).Return(order, true, nil).Once()
	store.On("GetChannel", ctx, int64(1)).Return(ch, nil)

	r := New(testConfig(), store, orc, pub)
	require.NoError(t, r.Sweep(ctx))

	published := pub.all()
	require.Len(t, published, 1)
	completed, ok := published[0].(events.OrderCompleted)
	require.True(t, ok)
	assert.Equal(t, orderID, completed.OrderID)
	assert.Equal(t, int64(5), completed.OwnerID)
}

func TestCheckUser_VerifiesOnlyOwnSubscriptions(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	pub := &recordingPublisher{}
	orc := newScriptedOracle()

	chA := activeChannel(1, "alpha", models.ChannelTierNormal, 5, 2)
	chB := activeChannel(2, "beta", models.ChannelTierVIP, 5, 2)
	orc.set(42, "alpha", oracle.Member)
	orc.set(42, "beta", oracle.NotMember)

	store.On("ActiveSubscriptionsForUser", ctx, int64(42)).
		Return([]*models.Subscription{activeSub(42, 1, 3), activeSub(42, 2, 4)}, nil)
	store.On("GetChannel", ctx, int64(1)).Return(chA, nil)
	store.On("GetChannel", ctx, int64(2)).Return(chB, nil)
	store.On("RecordDeparture", ctx, int64(42), int64(2)).Return(int64(4), true, nil)

	r := New(testConfig(), store, orc, pub)
	require.NoError(t, r.CheckUser(ctx, 42))

	published := pub.all()
	require.Len(t, published, 1)
	left := published[0].(events.Left)
	assert.Equal(t, "beta", left.ChannelUsername)
	assert.Equal(t, int64(4), left.Penalty)
}
