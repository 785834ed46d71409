package reconciler

import (
	"context"
	"fmt"
	"sync"

	"github.com/stretchr/testify/mock"
	"github.com/tgpromo/promobot/internal/events"
	"github.com/tgpromo/promobot/internal/models"
	"github.com/tgpromo/promobot/internal/oracle"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) ChannelsToReconcile(ctx context.Context) ([]*models.Channel, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Channel), args.Error(1)
}

func (m *MockStore) ActiveSubscriptionsForChannel(ctx context.Context, channelID int64) ([]*models.Subscription, error) {
	args := m.Called(ctx, channelID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Subscription), args.Error(1)
}

func (m *MockStore) ActiveSubscriptionsForUser(ctx context.Context, userID int64) ([]*models.Subscription, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Subscription), args.Error(1)
}

func (m *MockStore) GetChannel(ctx context.Context, channelID int64) (*models.Channel, error) {
	args := m.Called(ctx, channelID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Channel), args.Error(1)
}

func (m *MockStore) GetChannelByUsername(ctx context.Context, username string) (*models.Channel, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Channel), args.Error(1)
}

func (m *MockStore) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockStore) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *MockStore) GetSubscription(ctx context.Context, userID, channelID int64) (*models.Subscription, error) {
	args := m.Called(ctx, userID, channelID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *MockStore) PutJoinClaim(ctx context.Context, userID, channelID int64) error {
	args := m.Called(ctx, userID, channelID)
	return args.Error(0)
}

func (m *MockStore) RecordVerifiedJoin(ctx context.Context, userID, channelID, points int64) (*models.Channel, error) {
	args := m.Called(ctx, userID, channelID, points)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Channel), args.Error(1)
}

func (m *MockStore) RecordDeparture(ctx context.Context, userID, channelID int64) (int64, bool, error) {
	args := m.Called(ctx, userID, channelID)
	return args.Get(0).(int64), args.Bool(1), args.Error(2)
}

func (m *MockStore) CompleteOrder(ctx context.Context, orderID int64) (*models.Order, bool, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*models.Order), args.Bool(1), args.Error(2)
}

// recordingPublisher captures published events for assertions.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(event events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) all() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.events...)
}

// scriptedOracle answers per (user, channel) pair; unscripted pairs are Unknown.
type scriptedOracle struct {
	answers map[string]oracle.Membership
}

func oracleKey(userID int64, channel string) string {
	return fmt.Sprintf("%d|%s", userID, channel)
}

func newScriptedOracle() *scriptedOracle {
	return &scriptedOracle{answers: make(map[string]oracle.Membership)}
}

func (o *scriptedOracle) set(userID int64, channel string, m oracle.Membership) {
	o.answers[oracleKey(userID, channel)] = m
}

func (o *scriptedOracle) CheckMembership(_ context.Context, userID int64, channel string) oracle.Membership {
	return o.answers[oracleKey(userID, channel)]
}
