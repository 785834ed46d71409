package orders

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/tgpromo/promobot/internal/models"
)

var (
	ErrUnsupportedTarget = errors.New("unsupported member target")
	ErrInvalidChannel    = errors.New("invalid channel username")
)

// prices maps a member target to its cost in points.
var prices = map[int]int64{
	10:  20,
	25:  50,
	50:  100,
	100: 200,
}

var channelUsernameRe = regexp.MustCompile(`^@?[a-zA-Z][a-zA-Z0-9_]{4,31}$`)

// PriceFor returns the shop price for a member target.
func PriceFor(target int) (int64, bool) {
	price, ok := prices[target]
	return price, ok
}

// Targets lists the purchasable member targets in ascending order.
func Targets() []int {
	return []int{10, 25, 50, 100}
}

// Store is the slice of storage the purchase flow needs.
type Store interface {
	CreateOrder(ctx context.Context, ownerID int64, channelUsername string, tier models.ChannelTier, target int, cost int64) (*models.Order, error)
	UserOrders(ctx context.Context, ownerID int64) ([]*models.Order, error)
}

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// Purchase validates the request and creates the order, debiting the owner.
// Purchased channels always enter the listings at the normal tier.
func (s *Service) Purchase(ctx context.Context, ownerID int64, channelUsername string, target int) (*models.Order, error) {
	if !channelUsernameRe.MatchString(channelUsername) {
		return nil, ErrInvalidChannel
	}

	cost, ok := PriceFor(target)
	if !ok {
		return nil, ErrUnsupportedTarget
	}

	order, err := s.store.CreateOrder(ctx, ownerID, channelUsername, models.ChannelTierNormal, target, cost)
	if err != nil {
		return nil, fmt.Errorf("creating order: %w", err)
	}
	return order, nil
}

func (s *Service) ListForOwner(ctx context.Context, ownerID int64) ([]*models.Order, error) {
	return s.store.UserOrders(ctx, ownerID)
}
