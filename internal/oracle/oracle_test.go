package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gopkg.in/telebot.v4"
)

func TestFromStatus(t *testing.T) {
	cases := []struct {
		status telebot.MemberStatus
		want   Membership
	}{
		{telebot.Creator, Member},
		{telebot.Administrator, Member},
		{telebot.Member, Member},
		{telebot.Left, NotMember},
		{telebot.Kicked, NotMember},
		{telebot.Restricted, NotMember},
		{telebot.MemberStatus("something_new"), Unknown},
	}

	for _, c := range cases {
		t.Run(string(c.status), func(t *testing.T) {
			assert.Equal(t, c.want, FromStatus(c.status))
		})
	}
}

func TestCheckMembership_ConfirmedMember(t *testing.T) {
	c := &telegramClient{lookup: func(chat, user telebot.Recipient) (*telebot.ChatMember, error) {
		assert.Equal(t, "@promo", chat.Recipient())
		return &telebot.ChatMember{Role: telebot.Member}, nil
	}}

	assert.Equal(t, Member, c.CheckMembership(context.Background(), 42, "promo"))
}

func TestCheckMembership_LookupError_Unknown(t *testing.T) {
	c := &telegramClient{lookup: func(chat, user telebot.Recipient) (*telebot.ChatMember, error) {
		return nil, errors.New("telegram: Bad Request")
	}}

	assert.Equal(t, Unknown, c.CheckMembership(context.Background(), 42, "promo"))
}

func TestCheckMembership_DeadlineBoundsTheLookup(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	c := &telegramClient{lookup: func(chat, user telebot.Recipient) (*telebot.ChatMember, error) {
		<-release
		return &telebot.ChatMember{Role: telebot.Member}, nil
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	got := c.CheckMembership(ctx, 42, "promo")
	assert.Equal(t, Unknown, got)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestMembershipString(t *testing.T) {
	assert.Equal(t, "member", Member.String())
	assert.Equal(t, "not_member", NotMember.String())
	assert.Equal(t, "unknown", Unknown.String())
	assert.Equal(t, "unknown", Membership(42).String())
}
