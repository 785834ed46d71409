package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tgpromo/promobot/internal/config"
	"github.com/tgpromo/promobot/internal/models"
	"github.com/tgpromo/promobot/internal/oracle"
	"github.com/tgpromo/promobot/internal/orders"
	"github.com/tgpromo/promobot/internal/reconciler"
	"github.com/tgpromo/promobot/internal/storage"
	"gopkg.in/telebot.v4"
)

// Service owns the user-facing command surface. Message wording is kept
// minimal here; rendering templates and menus is the presentation layer's
// business, not the reconciliation core's.
type Service struct {
	cfg         *config.Config
	store       *storage.Storage
	rec         *reconciler.Reconciler
	oracle      oracle.Client
	orders      *orders.Service
	botUsername string
}

func NewService(
	cfg *config.Config,
	store *storage.Storage,
	rec *reconciler.Reconciler,
	oracleClient oracle.Client,
	ordersService *orders.Service,
	botUsername string,
) *Service {
	return &Service{
		cfg:         cfg,
		store:       store,
		rec:         rec,
		oracle:      oracleClient,
		orders:      ordersService,
		botUsername: botUsername,
	}
}

func (s *Service) Register(b *telebot.Bot) {
	b.Handle("/start", s.wrap(s.handleStart, false))
	b.Handle("/account", s.wrap(s.handleAccount, true))
	b.Handle("/daily", s.wrap(s.handleDaily, true))
	b.Handle("/ref", s.wrap(s.handleReferral, true))
	b.Handle("/channels", s.wrap(s.handleChannels, true))
	b.Handle("/vip", s.wrap(s.handleVIPChannels, true))
	b.Handle("/join", s.wrap(s.handleJoin, true))
	b.Handle("/redeem", s.wrap(s.handleRedeem, true))
	b.Handle("/buy", s.wrap(s.handleBuy, true))
	b.Handle("/orders", s.wrap(s.handleOrders, true))
	b.Handle("/content", s.wrap(s.handleContent, true))
}

type handlerFunc func(uc *UpdateContext, user *models.User) error

// wrap builds the per-update context, upserts the user, and enforces the ban
// and mandatory-channel gates before the actual handler runs.
func (s *Service) wrap(h handlerFunc, gated bool) telebot.HandlerFunc {
	return func(c telebot.Context) error {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.BotHandleTimeout)
		defer cancel()

		uc := NewUpdateContext(ctx, c)

		if c.Chat() != nil && c.Chat().Type != telebot.ChatPrivate {
			uc.L().Debugf("ignoring update from non-private chat %d", c.Chat().ID)
			return nil
		}
		if c.Sender() == nil || c.Sender().IsBot {
			return nil
		}

		user, err := s.ensureUser(uc)
		if err != nil {
			uc.L().Errorf("failed to ensure user: %v", err)
			return c.Send("Something went wrong, please try again.")
		}

		if user.Banned {
			return c.Send(fmt.Sprintf("Your account is banned: %s", user.BanReason))
		}

		if gated {
			ok, err := s.passesMandatoryGate(uc, user.TelegramID)
			if err != nil {
				uc.L().Errorf("mandatory gate check failed: %v", err)
				return c.Send("Something went wrong, please try again.")
			}
			if !ok {
				return nil
			}
		}

		if err := h(uc, user); err != nil {
			uc.L().Errorf("handler failed: %v", err)
			return c.Send("Something went wrong, please try again.")
		}
		return nil
	}
}

func (s *Service) ensureUser(uc *UpdateContext) (*models.User, error) {
	sender := uc.Sender()

	var referredBy *int64
	if payload := uc.TC().Message().Payload; payload != "" {
		if ref, err := strconv.ParseInt(payload, 10, 64); err == nil && ref != sender.ID {
			referredBy = &ref
		}
	}

	user, created, err := s.store.GetOrCreateUser(uc, sender.ID, sender.Username, sender.FirstName, referredBy)
	if err != nil {
		return nil, fmt.Errorf("get or create user: %w", err)
	}

	if created {
		uc.L().Infof("new user registered")
		if referredBy != nil {
			if _, err := s.store.ApplyDelta(
				uc, *referredBy, s.cfg.ReferralPoints, models.LedgerReasonReferral, nil,
			); err != nil {
				// The referee is registered either way; an invalid referrer
				// just earns nothing.
				uc.L().Warnf("failed to credit referrer %d: %v", *referredBy, err)
			}
		}
		return user, nil
	}

	if user.Username != sender.Username || user.FirstName != sender.FirstName {
		if err := s.store.UpdateUserHandle(uc, sender.ID, sender.Username, sender.FirstName); err != nil {
			uc.L().Warnf("failed to refresh user handle: %v", err)
		}
	}
	return user, nil
}

func (s *Service) handleStart(uc *UpdateContext, user *models.User) error {
	if err := uc.TC().Send(
		"Welcome! Earn points by joining promoted channels and spend them to promote your own.\n\n" +
			"/channels — channels to join\n" +
			"/vip — VIP channels\n" +
			"/join <channel> — claim a join\n" +
			"/account — your balance\n" +
			"/daily — daily reward\n" +
			"/ref — referral link\n" +
			"/buy <channel> <members> — promote your channel\n" +
			"/redeem <code> — redeem a code\n" +
			"/content — special content",
	); err != nil {
		return err
	}

	// Surface the mandatory channels right away instead of on the next command.
	_, err := s.passesMandatoryGate(uc, user.TelegramID)
	return err
}

func (s *Service) handleAccount(uc *UpdateContext, user *models.User) error {
	return uc.TC().Send(fmt.Sprintf(
		"Balance: %d points\nReferrals: %d\nChannels joined: %d\nRegistered: %s",
		user.Balance, user.Referrals, user.ChannelsJoined, user.CreatedAt.Format("2006-01-02"),
	))
}

func (s *Service) handleDaily(uc *UpdateContext, user *models.User) error {
	balance, granted, err := s.store.ClaimDailyReward(uc, user.TelegramID, s.cfg.DailyRewardPoints)
	if err != nil {
		return fmt.Errorf("claiming daily reward: %w", err)
	}
	if !granted {
		return uc.TC().Send("You already claimed today's reward, come back tomorrow.")
	}
	return uc.TC().Send(fmt.Sprintf("Daily reward claimed: +%d points. Balance: %d", s.cfg.DailyRewardPoints, balance))
}

func (s *Service) handleReferral(uc *UpdateContext, user *models.User) error {
	link := fmt.Sprintf("https://t.me/%s?start=%d", s.botUsername, user.TelegramID)
	return uc.TC().Send(fmt.Sprintf(
		"Your referral link:\n%s\n\nYou earn %d points for every new user who starts the bot through it.",
		link, s.cfg.ReferralPoints,
	))
}

func (s *Service) handleChannels(uc *UpdateContext, user *models.User) error {
	return s.sendChannelListing(uc, user, models.ChannelTierNormal)
}

func (s *Service) handleVIPChannels(uc *UpdateContext, user *models.User) error {
	return s.sendChannelListing(uc, user, models.ChannelTierVIP)
}

// sendChannelListing verifies the user's own subscriptions first so the
// joined markers are current as of this request, then renders the listing.
func (s *Service) sendChannelListing(uc *UpdateContext, user *models.User, tier models.ChannelTier) error {
	if err := s.rec.CheckUser(uc, user.TelegramID); err != nil {
		uc.L().Warnf("on-demand verification failed: %v", err)
	}

	channels, err := s.store.ActiveChannels(uc, tier)
	if err != nil {
		return fmt.Errorf("listing channels: %w", err)
	}
	if len(channels) == 0 {
		return uc.TC().Send("No channels available right now, try again later.")
	}

	subs, err := s.store.ActiveSubscriptionsForUser(uc, user.TelegramID)
	if err != nil {
		return fmt.Errorf("listing subscriptions: %w", err)
	}
	joined := make(map[int64]bool, len(subs))
	for _, sub := range subs {
		joined[sub.ChannelID] = true
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Channels (+%d points each):\n", s.cfg.TierPrice(tier))
	for _, ch := range channels {
		mark := ""
		if joined[ch.ID] {
			mark = " — joined"
		}
		fmt.Fprintf(&b, "@%s (%d/%d)%s\n", ch.Username, ch.VerifiedCount, ch.Target, mark)
	}
	b.WriteString("\nJoin a channel, then send /join <channel> to claim your points.")

	return uc.TC().Send(b.String())
}

func (s *Service) handleJoin(uc *UpdateContext, user *models.User) error {
	args := uc.TC().Args()
	if len(args) != 1 {
		return uc.TC().Send("Usage: /join <channel>")
	}

	result, err := s.rec.ClaimJoin(uc, user.TelegramID, args[0])
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrUnknownChannel):
		return uc.TC().Send("This channel is not in the collection list.")
	case errors.Is(err, reconciler.ErrChannelUnavailable):
		return uc.TC().Send("This channel is no longer collecting members.")
	case errors.Is(err, reconciler.ErrAlreadyCredited):
		return uc.TC().Send("You already claimed points for this channel.")
	case errors.Is(err, reconciler.ErrNotMember):
		return uc.TC().Send(fmt.Sprintf("Join @%s first, then claim again.", strings.TrimPrefix(args[0], "@")))
	case errors.Is(err, reconciler.ErrVerificationUnavailable):
		return uc.TC().Send("Could not verify your membership right now, please try again.")
	case errors.Is(err, reconciler.ErrExcluded):
		return uc.TC().Send("Joins from this account are not counted.")
	default:
		return fmt.Errorf("claiming join: %w", err)
	}

	msg := fmt.Sprintf(
		"+%d points! Channel progress: %d/%d",
		result.Points, result.Channel.VerifiedCount, result.Channel.Target,
	)
	if result.OrderCompleted {
		msg += "\nThe channel reached its target and left the listings."
	}
	return uc.TC().Send(msg)
}

func (s *Service) handleRedeem(uc *UpdateContext, user *models.User) error {
	args := uc.TC().Args()
	if len(args) != 1 {
		return uc.TC().Send("Usage: /redeem <code>")
	}

	points, err := s.store.RedeemCode(uc, user.TelegramID, args[0])
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrCodeInvalid):
		return uc.TC().Send("This code is invalid or expired.")
	case errors.Is(err, storage.ErrCodeAlreadyUsed):
		return uc.TC().Send("You already used this code.")
	default:
		return fmt.Errorf("redeeming code: %w", err)
	}

	return uc.TC().Send(fmt.Sprintf("Code redeemed: +%d points", points))
}

func (s *Service) handleBuy(uc *UpdateContext, user *models.User) error {
	args := uc.TC().Args()
	if len(args) != 2 {
		targets := make([]string, 0, len(orders.Targets()))
		for _, t := range orders.Targets() {
			price, _ := orders.PriceFor(t)
			targets = append(targets, fmt.Sprintf("%d members — %d points", t, price))
		}
		return uc.TC().Send("Usage: /buy <channel> <members>\n\nPrices:\n" + strings.Join(targets, "\n"))
	}

	target, err := strconv.Atoi(args[1])
	if err != nil {
		return uc.TC().Send("Member count must be a number.")
	}

	order, err := s.orders.Purchase(uc, user.TelegramID, args[0], target)
	switch {
	case err == nil:
	case errors.Is(err, orders.ErrInvalidChannel):
		return uc.TC().Send("That does not look like a channel username.")
	case errors.Is(err, orders.ErrUnsupportedTarget):
		return uc.TC().Send("Unsupported member count, send /buy to see the available packages.")
	case errors.Is(err, storage.ErrInsufficientPoints):
		return uc.TC().Send("Not enough points for this purchase.")
	case errors.Is(err, storage.ErrOrderAlreadyPending):
		return uc.TC().Send("This channel is already collecting members, wait until the current order completes.")
	default:
		return fmt.Errorf("purchasing order: %w", err)
	}

	return uc.TC().Send(fmt.Sprintf(
		"Order #%d created: @%s will collect %d members (%d points deducted).",
		order.ID, strings.TrimPrefix(args[0], "@"), order.Target, order.PointsCost,
	))
}

// handleContent shows the admin-curated special content. It is visible only
// to users without any active subscription, which covers newcomers and
// channel leavers.
func (s *Service) handleContent(uc *UpdateContext, user *models.User) error {
	if err := s.rec.CheckUser(uc, user.TelegramID); err != nil {
		uc.L().Warnf("on-demand verification failed: %v", err)
	}

	subs, err := s.store.ActiveSubscriptionsForUser(uc, user.TelegramID)
	if err != nil {
		return fmt.Errorf("listing subscriptions: %w", err)
	}
	if len(subs) > 0 {
		return uc.TC().Send("Special content is only available to users without active channel subscriptions.")
	}

	contents, err := s.store.SpecialContents(uc)
	if err != nil {
		return fmt.Errorf("listing special content: %w", err)
	}
	if len(contents) == 0 {
		return uc.TC().Send("No special content right now, check back later.")
	}

	var b strings.Builder
	for i, content := range contents {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%s\n%s", content.Title, content.Body)
	}
	return uc.TC().Send(b.String())
}

func (s *Service) handleOrders(uc *UpdateContext, user *models.User) error {
	list, err := s.orders.ListForOwner(uc, user.TelegramID)
	if err != nil {
		return fmt.Errorf("listing orders: %w", err)
	}
	if len(list) == 0 {
		return uc.TC().Send("You have no orders yet. Send /buy to create one.")
	}

	var b strings.Builder
	b.WriteString("Your orders:\n")
	for _, o := range list {
		fmt.Fprintf(&b, "#%d — %d/%d members, %s\n", o.ID, o.VerifiedCount, o.Target, o.Status)
	}
	return uc.TC().Send(b.String())
}
