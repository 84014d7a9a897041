// Package telegram delivers videos and messages through a Telegram bot.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/bnema/harvest/internal/domain"
	"github.com/bnema/harvest/internal/infrastructure/logger"
	"github.com/bnema/harvest/internal/port"
)

const (
	maxCaptionLen = 1024
	// Telegram asks clients to wait when flooded; longer waits are
	// left to the caller's retry.
	maxRetryAfter = 30 * time.Second
)

type Notifier struct {
	bot *tgbotapi.BotAPI
}

// New connects to the Bot API and checks the token. The Bot API client
// ignores contexts, so timeout bounds every request instead and should
// match the caller's send deadline.
func New(token string, timeout time.Duration) (*Notifier, error) {
	return newWithEndpoint(token, tgbotapi.APIEndpoint, timeout)
}

func newWithEndpoint(token, endpoint string, timeout time.Duration) (*Notifier, error) {
	client := &http.Client{Timeout: timeout}
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot: %w", err)
	}
	logger.Info.Printf("telegram: authorized as @%s", bot.Self.UserName)
	return &Notifier{bot: bot}, nil
}

func (n *Notifier) SendFile(ctx context.Context, subscriberID string, file domain.OutgoingFile) error {
	chatID, err := chatID(subscriberID)
	if err != nil {
		return err
	}
	video := tgbotapi.NewVideo(chatID, tgbotapi.FilePath(file.Path))
	video.Caption = truncate(file.Caption, maxCaptionLen)
	video.Duration = file.Duration
	video.SupportsStreaming = true
	return n.send(ctx, video)
}

func (n *Notifier) SendText(ctx context.Context, subscriberID, text string) error {
	chatID, err := chatID(subscriberID)
	if err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	return n.send(ctx, msg)
}

// send honours one flood-control wait before giving up.
func (n *Notifier) send(ctx context.Context, c tgbotapi.Chattable) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := n.bot.Send(c)
		if err == nil {
			return nil
		}

		var apiErr *tgbotapi.Error
		if attempt == 0 && errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
			wait := time.Duration(apiErr.RetryAfter) * time.Second
			if wait <= maxRetryAfter {
				logger.Warn.Printf("telegram: flood control, retrying in %s", wait)
				timer := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case <-timer.C:
				}
				continue
			}
		}
		return fmt.Errorf("telegram: %w", err)
	}
}

func chatID(subscriberID string) (int64, error) {
	id, err := strconv.ParseInt(subscriberID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: subscriber %q is not a chat id", subscriberID)
	}
	return id, nil
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

var _ port.Notifier = (*Notifier)(nil)
