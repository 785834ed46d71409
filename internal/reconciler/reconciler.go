package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tgpromo/promobot/internal/config"
	"github.com/tgpromo/promobot/internal/events"
	"github.com/tgpromo/promobot/internal/models"
	"github.com/tgpromo/promobot/internal/oracle"
)

// Store is the durable state the reconciler drives. *storage.Storage
// implements it; tests substitute mocks.
type Store interface {
	ChannelsToReconcile(ctx context.Context) ([]*models.Channel, error)
	ActiveSubscriptionsForChannel(ctx context.Context, channelID int64) ([]*models.Subscription, error)
	ActiveSubscriptionsForUser(ctx context.Context, userID int64) ([]*models.Subscription, error)
	GetChannel(ctx context.Context, channelID int64) (*models.Channel, error)
	GetChannelByUsername(ctx context.Context, username string) (*models.Channel, error)
	GetUser(ctx context.Context, userID int64) (*models.User, error)
	GetOrder(ctx context.Context, orderID int64) (*models.Order, error)
	GetSubscription(ctx context.Context, userID, channelID int64) (*models.Subscription, error)
	PutJoinClaim(ctx context.Context, userID, channelID int64) error
	RecordVerifiedJoin(ctx context.Context, userID, channelID, points int64) (*models.Channel, error)
	RecordDeparture(ctx context.Context, userID, channelID int64) (int64, bool, error)
	CompleteOrder(ctx context.Context, orderID int64) (*models.Order, bool, error)
}

type Reconciler struct {
	cfg       *config.Config
	store     Store
	oracle    oracle.Client
	publisher events.Publisher
	classify  Classifier
}

func New(cfg *config.Config, store Store, oracleClient oracle.Client, publisher events.Publisher) *Reconciler {
	return &Reconciler{
		cfg:       cfg,
		store:     store,
		oracle:    oracleClient,
		publisher: publisher,
		classify:  DefaultClassifier,
	}
}

// Run drives the periodic sweep until the context is cancelled. A failing
// channel or user never halts the sweep over the rest.
func (r *Reconciler) Run(ctx context.Context) {
	t := time.NewTicker(r.cfg.ReconcileInterval)
	defer t.Stop()

	logger := logrus.WithField("component", "reconciler")

	for {
		select {
		case <-t.C:
			if err := r.Sweep(ctx); err != nil {
				logger.Errorf("sweep failed: %v", err)
			}
		case <-ctx.Done():
			logger.Info("reconciler stopped")
			return
		}
	}
}

// Sweep verifies every (user, channel) pair that still has an active
// subscription, then retries completion detection for pending orders in case
// an earlier completion check was interrupted.
func (r *Reconciler) Sweep(ctx context.Context) error {
	logger := logrus.WithField("component", "reconciler")

	channels, err := r.store.ChannelsToReconcile(ctx)
	if err != nil {
		return fmt.Errorf("listing channels: %w", err)
	}

	var checked, departed int
	for _, ch := range channels {
		subs, err := r.store.ActiveSubscriptionsForChannel(ctx, ch.ID)
		if err != nil {
			logger.Errorf("listing subscriptions for channel %d: %v", ch.ID, err)
			continue
		}

		for _, sub := range subs {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			left, err := r.verifyPair(ctx, ch, sub)
			if err != nil {
				logger.Errorf("verifying user %d in channel @%s: %v", sub.UserID, ch.Username, err)
				continue
			}
			checked++
			if left {
				departed++
			}
		}

		if ch.OrderID != nil {
			if err := r.maybeCompleteOrder(ctx, *ch.OrderID); err != nil {
				logger.Errorf("completion check for order %d: %v", *ch.OrderID, err)
			}
		}
	}

	logger.Infof("sweep finished: %d channels, %d pairs checked, %d departures", len(channels), checked, departed)
	return nil
}

// CheckUser synchronously verifies a single user's active subscriptions so
// the channel listing the user is about to see is never stale by more than
// the request latency.
func (r *Reconciler) CheckUser(ctx context.Context, userID int64) error {
	subs, err := r.store.ActiveSubscriptionsForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("listing subscriptions: %w", err)
	}

	for _, sub := range subs {
		ch, err := r.store.GetChannel(ctx, sub.ChannelID)
		if err != nil {
			return fmt.Errorf("getting channel %d: %w", sub.ChannelID, err)
		}
		if _, err := r.verifyPair(ctx, ch, sub); err != nil {
			return fmt.Errorf("verifying channel @%s: %w", ch.Username, err)
		}
	}
	return nil
}

// verifyPair runs the verification routine for one already-credited pair.
// Member confirms the state; NotMember triggers the departure transition;
// Unknown is logged and changes nothing, so a flaky oracle never produces a
// false penalty. Reports whether a departure was applied.
func (r *Reconciler) verifyPair(ctx context.Context, ch *models.Channel, sub *models.Subscription) (bool, error) {
	logger := logrus.WithFields(logrus.Fields{
		"component": "reconciler",
		"user_id":   sub.UserID,
		"channel":   ch.Username,
	})

	switch r.checkMembership(ctx, sub.UserID, ch.Username) {
	case oracle.Member:
		return false, nil

	case oracle.NotMember:
		penalty, applied, err := r.store.RecordDeparture(ctx, sub.UserID, ch.ID)
		if err != nil {
			return false, fmt.Errorf("recording departure: %w", err)
		}
		if !applied {
			// A concurrent check won the compare-and-set; drop our event.
			logger.Debug("departure already recorded elsewhere")
			return false, nil
		}

		logger.Infof("confirmed departure, penalized %d points", penalty)
		r.publisher.Publish(events.Left{
			UserID:          sub.UserID,
			ChannelID:       ch.ID,
			ChannelUsername: ch.Username,
			Penalty:         penalty,
		})
		return true, nil

	default:
		logger.Debug("membership unknown, skipping pair this cycle")
		return false, nil
	}
}

func (r *Reconciler) checkMembership(ctx context.Context, userID int64, channelUsername string) oracle.Membership {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.OracleTimeout)
	defer cancel()
	return r.oracle.CheckMembership(ctx, userID, channelUsername)
}

func (r *Reconciler) maybeCompleteOrder(ctx context.Context, orderID int64) error {
	order, applied, err := r.store.CompleteOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	ch, err := r.store.GetChannel(ctx, order.ChannelID)
	if err != nil {
		return fmt.Errorf("getting completed channel: %w", err)
	}

	logrus.WithField("component", "reconciler").
		Infof("order %d completed: channel @%s reached %d members", order.ID, ch.Username, order.Target)

	r.publisher.Publish(events.OrderCompleted{
		OrderID:         order.ID,
		ChannelID:       ch.ID,
		ChannelUsername: ch.Username,
		OwnerID:         order.OwnerID,
		Target:          order.Target,
	})
	return nil
}
