package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-access-bot/internal/domain"
	"github.com/tbourn/go-access-bot/internal/utils"
)

// Telegram adapts the Bot API client to the Messenger interface and feeds
// updates to a handler, by long polling or by webhook.
type Telegram struct {
	api *tgbotapi.BotAPI
	// PollTimeout is the long-poll wait in seconds.
	PollTimeout int
}

// NewTelegram authenticates token against the Bot API.
func NewTelegram(token string) (*Telegram, error) {
	return NewTelegramWithEndpoint(token, tgbotapi.APIEndpoint, &http.Client{Timeout: 75 * time.Second})
}

// NewTelegramWithEndpoint is NewTelegram against a custom API endpoint (a
// "%s/%s" pattern taking token and method) and HTTP client.
func NewTelegramWithEndpoint(token, endpoint string, client tgbotapi.HTTPClient) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram: authenticate: %w", err)
	}
	return &Telegram{api: api, PollTimeout: 50}, nil
}

// Username returns the bot's @username.
func (t *Telegram) Username() string { return t.api.Self.UserName }

// Send posts text to chatID with an optional inline keyboard, one button
// per row. The Bot API client is not context-aware, so ctx is only checked
// before the call; the HTTP client timeout bounds the request.
func (t *Telegram) Send(ctx context.Context, chatID int64, text string, buttons ...domain.Button) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if len(buttons) > 0 {
		msg.ReplyMarkup = keyboard(buttons)
	}
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	return nil
}

// AnswerCallback acknowledges a button press so the client stops its
// loading indicator.
func (t *Telegram) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return fmt.Errorf("telegram: answer callback: %w", err)
	}
	return nil
}

// Poll long-polls for updates and passes each to handle until ctx is
// cancelled. Any registered webhook is removed first, since the Bot API
// refuses getUpdates while one is set.
func (t *Telegram) Poll(ctx context.Context, handle func(tgbotapi.Update)) error {
	if _, err := t.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return fmt.Errorf("telegram: delete webhook: %w", err)
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = t.PollTimeout
	updates := t.api.GetUpdatesChan(u)
	defer t.api.StopReceivingUpdates()

	log.Info().Str("bot", t.Username()).Msg("polling for updates")
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return errors.New("telegram: update channel closed")
			}
			handle(up)
		}
	}
}

// SetWebhook registers url as the update destination.
func (t *Telegram) SetWebhook(url string) error {
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return fmt.Errorf("telegram: webhook url: %w", err)
	}
	if _, err := t.api.Request(wh); err != nil {
		return fmt.Errorf("telegram: set webhook: %w", err)
	}
	return nil
}

func keyboard(buttons []domain.Button) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		if b.URL != "" {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL)))
			continue
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// ToEvent converts an update into a domain event. Updates the bot does not
// act on (edits, stickers, channel posts, anonymous senders) report false.
func ToEvent(up tgbotapi.Update) (domain.Event, bool) {
	ev := domain.Event{ID: uuid.NewString(), UpdateID: up.UpdateID}

	switch {
	case up.Message != nil:
		m := up.Message
		if m.From == nil || m.Chat == nil {
			return domain.Event{}, false
		}
		ev.SubscriberID = m.From.ID
		ev.ChatID = m.Chat.ID
		ev.Username = m.From.UserName
		ev.FirstName = m.From.FirstName
		ev.Text = m.Text

		switch {
		case m.IsCommand():
			ev.Command = m.Command()
			ev.Args = m.CommandArguments()
			ev.Kind = domain.EventCommand
			if ev.Command == "start" {
				ev.Kind = domain.EventStart
				ev.Payload = utils.FirstField(ev.Args)
			}
		case m.Text != "":
			ev.Kind = domain.EventText
		default:
			return domain.Event{}, false
		}
		return ev, true

	case up.CallbackQuery != nil:
		q := up.CallbackQuery
		if q.From == nil {
			return domain.Event{}, false
		}
		ev.Kind = domain.EventCallback
		ev.SubscriberID = q.From.ID
		ev.ChatID = q.From.ID
		if q.Message != nil && q.Message.Chat != nil {
			ev.ChatID = q.Message.Chat.ID
		}
		ev.Username = q.From.UserName
		ev.FirstName = q.From.FirstName
		ev.Payload = q.Data
		ev.CallbackID = q.ID
		return ev, true
	}
	return domain.Event{}, false
}
