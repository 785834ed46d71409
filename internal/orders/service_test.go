package orders

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tgpromo/promobot/internal/models"
	"github.com/tgpromo/promobot/internal/storage"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateOrder(ctx context.Context, ownerID int64, channelUsername string, tier models.ChannelTier, target int, cost int64) (*models.Order, error) {
	args := m.Called(ctx, ownerID, channelUsername, tier, target, cost)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *MockStore) UserOrders(ctx context.Context, ownerID int64) ([]*models.Order, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Order), args.Error(1)
}

func TestPurchase_ChargesListedPrice(t *testing.T) {
	ctx := context.Background()

	for target, cost := range map[int]int64{10: 20, 25: 50, 50: 100, 100: 200} {
		t.Run(fmt.Sprintf("target_%d", target), func(t *testing.T) {
			store := new(MockStore)
			store.On("CreateOrder", ctx, int64(5), "mychannel", models.ChannelTierNormal, target, cost).
				Return(&models.Order{ID: 1, OwnerID: 5, Target: target, PointsCost: cost}, nil)

			order, err := NewService(store).Purchase(ctx, 5, "mychannel", target)
			require.NoError(t, err)
			assert.Equal(t, cost, order.PointsCost)
			store.AssertExpectations(t)
		})
	}
}

func TestPurchase_UnsupportedTarget(t *testing.T) {
	store := new(MockStore)

	_, err := NewService(store).Purchase(context.Background(), 5, "mychannel", 17)
	assert.ErrorIs(t, err, ErrUnsupportedTarget)
	store.AssertNotCalled(t, "CreateOrder")
}

func TestPurchase_InvalidChannelUsername(t *testing.T) {
	store := new(MockStore)
	s := NewService(store)

	for _, username := range []string{"", "abc", "1startswithdigit", "has spaces", "bad-dash", "@"} {
		_, err := s.Purchase(context.Background(), 5, username, 10)
		assert.ErrorIs(t, err, ErrInvalidChannel, "username %q", username)
	}
	store.AssertNotCalled(t, "CreateOrder")
}

func TestPurchase_AcceptsUsernameWithOrWithoutAt(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	store.On("CreateOrder", ctx, int64(5), mock.AnythingOfType("string"), models.ChannelTierNormal, 10, int64(20)).
		Return(&models.Order{ID: 1}, nil).Twice()

	s := NewService(store)
	_, err := s.Purchase(ctx, 5, "mychannel", 10)
	require.NoError(t, err)
	_, err = s.Purchase(ctx, 5, "@mychannel", 10)
	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestPurchase_InsufficientPoints_Surfaced(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	store.On("CreateOrder", ctx, int64(5), "mychannel", models.ChannelTierNormal, 10, int64(20)).
		Return(nil, storage.ErrInsufficientPoints)

	_, err := NewService(store).Purchase(ctx, 5, "mychannel", 10)
	assert.ErrorIs(t, err, storage.ErrInsufficientPoints)
}

func TestPurchase_PendingOrderConflict_Surfaced(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	store.On("CreateOrder", ctx, int64(5), "mychannel", models.ChannelTierNormal, 10, int64(20)).
		Return(nil, storage.ErrOrderAlreadyPending)

	_, err := NewService(store).Purchase(ctx, 5, "mychannel", 10)
	assert.ErrorIs(t, err, storage.ErrOrderAlreadyPending)
}

func TestTargets_MatchPriceTable(t *testing.T) {
	for _, target := range Targets() {
		_, ok := PriceFor(target)
		assert.True(t, ok, "target %d has no price", target)
	}
	_, ok := PriceFor(11)
	assert.False(t, ok)
}

func TestListForOwner(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	want := []*models.Order{{ID: 1, OwnerID: 5}, {ID: 2, OwnerID: 5}}
	store.On("UserOrders", ctx, int64(5)).Return(want, nil)

	got, err := NewService(store).ListForOwner(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
