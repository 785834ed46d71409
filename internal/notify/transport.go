package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
	"gopkg.in/telebot.v4"
)

// Transport delivers one rendered notification to one recipient.
type Transport interface {
	Send(ctx context.Context, recipientID int64, text string) error
}

type telegramTransport struct {
	bot telebot.API
}

func NewTelegramTransport(bot telebot.API) Transport {
	return &telegramTransport{bot: bot}
}

func (t *telegramTransport) Send(ctx context.Context, recipientID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.bot.Send(&telebot.User{ID: recipientID}, text); err != nil {
		return fmt.Errorf("sending telegram message: %w", err)
	}
	return nil
}

// webhookTransport mirrors notifications to an external HTTP endpoint.
type webhookTransport struct {
	client *resty.Client
}

func NewWebhookTransport(url string) Transport {
	return &webhookTransport{client: resty.New().SetBaseURL(url)}
}

func (t *webhookTransport) Send(ctx context.Context, recipientID int64, text string) error {
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"recipient_id": recipientID,
			"text":         text,
		}).
		Post("")
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	if resp.StatusCode() >= http.StatusBadRequest {
		return fmt.Errorf("unexpected webhook status: %d %s", resp.StatusCode(), string(resp.Body()))
	}
	return nil
}
