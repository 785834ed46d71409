package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tgpromo/promobot/internal/config"
	"github.com/tgpromo/promobot/internal/events"
)

type sentMessage struct {
	recipientID int64
	text        string
}

// fakeTransport fails the first N attempts per recipient, then succeeds.
type fakeTransport struct {
	mu        sync.Mutex
	failFirst map[int64]int
	attempts  map[int64]int
	sent      []sentMessage
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		failFirst: make(map[int64]int),
		attempts:  make(map[int64]int),
	}
}

func (t *fakeTransport) Send(_ context.Context, recipientID int64, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.attempts[recipientID]++
	if t.attempts[recipientID] <= t.failFirst[recipientID] {
		return errors.New("transport down")
	}
	t.sent = append(t.sent, sentMessage{recipientID: recipientID, text: text})
	return nil
}

func (t *fakeTransport) sentTo(recipientID int64) []sentMessage {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []sentMessage
	for _, m := range t.sent {
		if m.recipientID == recipientID {
			out = append(out, m)
		}
	}
	return out
}

func (t *fakeTransport) attemptsFor(recipientID int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts[recipientID]
}

func testConfig() *config.Config {
	return &config.Config{
		AdminID:           99,
		NotifyMaxAttempts: 3,
		NotifyQueueSize:   4,
	}
}

func TestDispatch_JoinedNotifiesOwner(t *testing.T) {
	transport := newFakeTransport()
	d := NewDispatcher(testConfig(), transport)

	d.dispatch(context.Background(), events.Joined{
		UserID:          42,
		Username:        "somebody",
		ChannelID:       1,
		ChannelUsername: "promo",
		OwnerID:         5,
		Points:          3,
	})

	sent := transport.sentTo(5)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].text, "@promo")
	assert.Contains(t, sent[0].text, "somebody")
}

func TestDispatch_JoinedWithoutOwner_NothingSent(t *testing.T) {
	transport := newFakeTransport()
	d := NewDispatcher(testConfig(), transport)

	// No order behind the channel.
	d.dispatch(context.Background(), events.Joined{UserID: 42, ChannelUsername: "promo", OwnerID: 0, Points: 3})
	// Owner joining their own channel.
	d.dispatch(context.Background(), events.Joined{UserID: 5, ChannelUsername: "promo", OwnerID: 5, Points: 3})

	assert.Empty(t, transport.sent)
}

func TestDeliver_RetriesUntilSuccess(t *testing.T) {
	transport := newFakeTransport()
	transport.failFirst[99] = 1

	d := NewDispatcher(testConfig(), transport)
	d.dispatch(context.Background(), events.Left{UserID: 42, ChannelUsername: "promo", Penalty: 3})

	assert.Equal(t, 2, transport.attemptsFor(99))
	require.Len(t, transport.sentTo(99), 1)
}

func TestDeliver_GivesUpAfterMaxAttempts(t *testing.T) {
	transport := newFakeTransport()
	transport.failFirst[99] = 1000

	cfg := testConfig()
	cfg.NotifyMaxAttempts = 2
	d := NewDispatcher(cfg, transport)
	d.dispatch(context.Background(), events.Left{UserID: 42, ChannelUsername: "promo", Penalty: 3})

	assert.Equal(t, 2, transport.attemptsFor(99))
	assert.Empty(t, transport.sentTo(99))
}

func TestDispatch_OrderCompleted_RecipientsFailIndependently(t *testing.T) {
	transport := newFakeTransport()
	transport.failFirst[5] = 1000 // owner unreachable

	cfg := testConfig()
	cfg.NotifyMaxAttempts = 1
	d := NewDispatcher(cfg, transport)

	d.dispatch(context.Background(), events.OrderCompleted{
		OrderID:         7,
		ChannelID:       1,
		ChannelUsername: "promo",
		OwnerID:         5,
		Target:          10,
	})

	// Admin notification went through even though the owner's did not.
	require.Len(t, transport.sentTo(99), 1)
	assert.Empty(t, transport.sentTo(5))
	assert.Equal(t, 1, transport.attemptsFor(5))
}

func TestDispatch_Broadcast_UnreachableRecipientSkipped(t *testing.T) {
	transport := newFakeTransport()
	transport.failFirst[2] = 1000 // blocked the bot

	cfg := testConfig()
	cfg.NotifyMaxAttempts = 1
	d := NewDispatcher(cfg, transport)

	d.dispatch(context.Background(), events.Broadcast{
		Recipients: []int64{1, 2, 3},
		Text:       "scheduled maintenance tonight",
	})

	require.Len(t, transport.sentTo(1), 1)
	assert.Empty(t, transport.sentTo(2))
	require.Len(t, transport.sentTo(3), 1)
	assert.Equal(t, "scheduled maintenance tonight", transport.sentTo(3)[0].text)
}

func TestPublish_OverflowDropsOldest(t *testing.T) {
	cfg := testConfig()
	cfg.NotifyQueueSize = 1
	d := NewDispatcher(cfg, newFakeTransport())

	d.Publish(events.Left{UserID: 1, ChannelUsername: "promo", Penalty: 3})
	d.Publish(events.Left{UserID: 2, ChannelUsername: "promo", Penalty: 3})
	d.Publish(events.Left{UserID: 3, ChannelUsername: "promo", Penalty: 3})

	require.Len(t, d.queue, 1)
	kept := (<-d.queue).(events.Left)
	assert.Equal(t, int64(3), kept.UserID)
}

func TestRun_DrainsQueueOnShutdown(t *testing.T) {
	transport := newFakeTransport()
	d := NewDispatcher(testConfig(), transport)

	d.Publish(events.Left{UserID: 1, ChannelUsername: "promo", Penalty: 3})
	d.Publish(events.Left{UserID: 2, ChannelUsername: "promo", Penalty: 4})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx)

	assert.Len(t, transport.sentTo(99), 2)
}
