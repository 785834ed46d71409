package oracle

import (
	"context"
	"strings"

	"gopkg.in/telebot.v4"
)

// Membership is the three-valued answer of the external membership lookup.
// Unknown covers every transport or API failure and must never be collapsed
// into NotMember: a flaky lookup is not evidence of a departure.
type Membership int

const (
	Unknown Membership = iota
	Member
	NotMember
)

func (m Membership) String() string {
	switch m {
	case Member:
		return "member"
	case NotMember:
		return "not_member"
	default:
		return "unknown"
	}
}

// Client answers whether a user currently belongs to a channel.
// Implementations hold no state and never retry; retrying is the caller's
// business (the reconciler simply asks again next cycle).
type Client interface {
	CheckMembership(ctx context.Context, userID int64, channelUsername string) Membership
}

// channelRef addresses a public channel by its @username.
type channelRef string

func (r channelRef) Recipient() string { return string(r) }

type lookupFunc func(chat, user telebot.Recipient) (*telebot.ChatMember, error)

type telegramClient struct {
	lookup lookupFunc
}

func NewTelegramClient(bot telebot.API) Client {
	return &telegramClient{lookup: bot.ChatMemberOf}
}

// CheckMembership runs the lookup in its own goroutine so the context
// deadline bounds the wait even though the bot API call itself does not take
// a context. A timed-out lookup is abandoned and reported as Unknown.
func (c *telegramClient) CheckMembership(ctx context.Context, userID int64, channelUsername string) Membership {
	res := make(chan Membership, 1)
	go func() {
		member, err := c.lookup(
			channelRef("@"+strings.TrimPrefix(channelUsername, "@")),
			&telebot.User{ID: userID},
		)
		if err != nil {
			res <- Unknown
			return
		}
		res <- FromStatus(member.Role)
	}()

	select {
	case m := <-res:
		return m
	case <-ctx.Done():
		return Unknown
	}
}

// FromStatus maps a Telegram chat-member status to a membership verdict.
func FromStatus(status telebot.MemberStatus) Membership {
	switch status {
	case telebot.Member, telebot.Administrator, telebot.Creator:
		return Member
	case telebot.Left, telebot.Kicked, telebot.Restricted:
		return NotMember
	default:
		return Unknown
	}
}
