package reconciler

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/tgpromo/promobot/internal/events"
	"github.com/tgpromo/promobot/internal/models"
	"github.com/tgpromo/promobot/internal/oracle"
	"github.com/tgpromo/promobot/internal/storage"
)

var (
	// ErrNotMember means the oracle confirmed the user has not joined yet.
	ErrNotMember = errors.New("user is not a member of the channel")

	// ErrVerificationUnavailable means the oracle could not answer; the user
	// should simply try again. It is never treated as NotMember.
	ErrVerificationUnavailable = errors.New("membership verification temporarily unavailable")

	// ErrAlreadyCredited covers both duplicates and leave/rejoin replays:
	// a pair that was ever credited is never credited again.
	ErrAlreadyCredited = errors.New("join was already credited")

	// ErrChannelUnavailable means the channel is inactive or already full.
	ErrChannelUnavailable = errors.New("channel is not collecting members")

	// ErrExcluded means this user's joins never count (admin, order owner,
	// configured exclusions).
	ErrExcluded = errors.New("user is excluded from counting")
)

// JoinResult reports a credited join back to the caller.
type JoinResult struct {
	Channel        *models.Channel
	Points         int64
	OrderCompleted bool
}

// ClaimJoin is the purchase-flow entry point: the user asserts they joined
// the channel through the bot, the oracle verifies it, and the whole credit
// commits as one transaction. Organic joins never reach this path, so they
// never increment verified counts.
func (r *Reconciler) ClaimJoin(ctx context.Context, userID int64, channelUsername string) (*JoinResult, error) {
	logger := logrus.WithFields(logrus.Fields{
		"component": "reconciler",
		"user_id":   userID,
		"channel":   channelUsername,
	})

	ch, err := r.store.GetChannelByUsername(ctx, channelUsername)
	if err != nil {
		return nil, err
	}
	if !ch.Active {
		return nil, ErrChannelUnavailable
	}

	user, err := r.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if r.cfg.IsExcludedFromCounting(userID) {
		return nil, ErrExcluded
	}

	var ownerID int64
	if ch.OrderID != nil {
		order, err := r.store.GetOrder(ctx, *ch.OrderID)
		if err != nil {
			return nil, fmt.Errorf("getting order: %w", err)
		}
		ownerID = order.OwnerID
		if ownerID == userID {
			return nil, ErrExcluded
		}
	}

	sub, err := r.store.GetSubscription(ctx, userID, ch.ID)
	if err != nil {
		return nil, err
	}
	if sub != nil {
		return nil, ErrAlreadyCredited
	}

	if class, warnings := r.classify(user); class == Suspicious {
		logger.Warnf("suspicious join: %v", warnings)
	}

	if err := r.store.PutJoinClaim(ctx, userID, ch.ID); err != nil {
		return nil, err
	}

	switch r.checkMembership(ctx, userID, ch.Username) {
	case oracle.Member:
	case oracle.NotMember:
		return nil, ErrNotMember
	default:
		return nil, ErrVerificationUnavailable
	}

	points := r.cfg.TierPrice(ch.Tier)
	credited, err := r.store.RecordVerifiedJoin(ctx, userID, ch.ID, points)
	if err != nil {
		if errors.Is(err, storage.ErrNotApplied) {
			return nil, ErrChannelUnavailable
		}
		return nil, err
	}

	logger.Infof("verified join credited: +%d points, channel at %d/%d", points, credited.VerifiedCount, credited.Target)
	r.publisher.Publish(events.Joined{
		UserID:          userID,
		Username:        user.Username,
		ChannelID:       credited.ID,
		ChannelUsername: credited.Username,
		OwnerID:         ownerID,
		Points:          points,
	})

	result := &JoinResult{Channel: credited, Points: points}

	if credited.OrderID != nil {
		order, applied, err := r.store.CompleteOrder(ctx, *credited.OrderID)
		if err != nil {
			return nil, fmt.Errorf("completion check: %w", err)
		}
		if applied {
			result.OrderCompleted = true
			logger.Infof("order %d completed by this join", order.ID)
			r.publisher.Publish(events.OrderCompleted{
				OrderID:         order.ID,
				ChannelID:       credited.ID,
				ChannelUsername: credited.Username,
				OwnerID:         order.OwnerID,
				Target:          order.Target,
			})
		}
	}

	return result, nil
}
