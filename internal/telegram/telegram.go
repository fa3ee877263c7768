// Package telegram hosts the Telegram client, routing, and handlers.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"emias_bot/internal/config"
	"emias_bot/internal/domain"
	"emias_bot/internal/feature/navigation"
	"emias_bot/internal/feature/profile"
	"emias_bot/internal/logging"
)

const (
	// maxMessageRunes is the Telegram limit for a single text message.
	maxMessageRunes = 4096
	updateTimeout   = 2 * time.Minute
)

type botRunner interface {
	Start(ctx context.Context)
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	EditMessageReplyMarkup(ctx context.Context, params *bot.EditMessageReplyMarkupParams) (*models.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
	SetMyCommands(ctx context.Context, params *bot.SetMyCommandsParams) (bool, error)
}

var (
	defaultAllowedUpdates = bot.AllowedUpdates{
		"message",
		"callback_query",
	}

	createBot = func(token string, options ...bot.Option) (botRunner, error) {
		return bot.New(token, options...)
	}

	newRequestID = func() string {
		return uuid.NewString()
	}
)

// Profile handles slash commands.
type Profile interface {
	Help() profile.Reply
	Start(ctx context.Context, chatID, userID int64) profile.Reply
	SetInsurance(ctx context.Context, chatID int64, arg string) profile.Reply
	SetBirthDate(ctx context.Context, chatID int64, arg string) profile.Reply
	Info(ctx context.Context, chatID int64) profile.Reply
	Referrals(ctx context.Context, chatID int64) (domain.Record, profile.Reply, bool)
	Stats(ctx context.Context, userID int64) (profile.Reply, bool)
}

// Navigator handles inline keyboard callbacks.
type Navigator interface {
	Handle(ctx context.Context, chatID int64, messageID int, data string) navigation.Outcome
}

// DigestSender builds and delivers a digest on demand.
type DigestSender interface {
	DeliverTo(ctx context.Context, record domain.Record) error
}

// UpdateObserver records handled updates.
type UpdateObserver interface {
	ObserveUpdate(kind, outcome string)
}

// Client wraps the Telegram bot instance and routes updates to the feature
// services.
type Client struct {
	bot       botRunner
	logger    *logrus.Entry
	profile   Profile
	navigator Navigator
	digest    DigestSender
	observer  UpdateObserver
}

// Option customizes a Client.
type Option func(*Client)

func WithProfile(p Profile) Option {
	return func(c *Client) {
		c.profile = p
	}
}

func WithNavigator(n Navigator) Option {
	return func(c *Client) {
		c.navigator = n
	}
}

func WithUpdateObserver(o UpdateObserver) Option {
	return func(c *Client) {
		c.observer = o
	}
}

// NewClient initializes the Telegram bot with long polling and the update router.
func NewClient(cfg config.Config, logger *logrus.Entry, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.TelegramToken) == "" {
		return nil, errors.New("telegram token is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	client := &Client{logger: logger}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	tgBot, err := createBot(cfg.TelegramToken,
		bot.WithAllowedUpdates(defaultAllowedUpdates),
		bot.WithDefaultHandler(client.handleUpdate),
		bot.WithErrorsHandler(errorHandler(logger)),
	)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot client: %w", err)
	}
	client.bot = tgBot

	return client, nil
}

// SetDigestSender enables the /referrals command. The sender usually depends
// on the client itself as its notifier, so it is attached after construction
// and before Start.
func (c *Client) SetDigestSender(sender DigestSender) {
	c.digest = sender
}

// Start registers the command menu and receives updates via long polling
// until the context is canceled.
func (c *Client) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	c.registerCommands(ctx)

	c.logger.WithFields(logging.Fields{
		"event":           "telegram_listen",
		"allowed_updates": defaultAllowedUpdates,
	}).Info("starting telegram long polling")

	c.bot.Start(ctx)

	c.logger.WithField("event", "telegram_stopped").Info("telegram polling stopped")
}

// Notify sends text to a chat. Text longer than one Telegram message is split
// on line boundaries; the markup is attached to the last part.
func (c *Client) Notify(ctx context.Context, chatID int64, text string, markup *models.InlineKeyboardMarkup) error {
	parts := splitMessage(text, maxMessageRunes)
	for i, part := range parts {
		var partMarkup *models.InlineKeyboardMarkup
		if i == len(parts)-1 {
			partMarkup = markup
		}
		if err := c.send(ctx, chatID, part, partMarkup); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, chatID int64, text string, markup *models.InlineKeyboardMarkup) error {
	params := &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	}
	if markup != nil {
		params.ReplyMarkup = markup
	}

	if _, err := c.bot.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("send message to chat %d: %w", chatID, err)
	}
	return nil
}

func (c *Client) registerCommands(ctx context.Context) {
	commands := make([]models.BotCommand, 0, len(profile.Commands))
	for _, cmd := range profile.Commands {
		commands = append(commands, models.BotCommand{Command: cmd.Name, Description: cmd.Description})
	}

	if _, err := c.bot.SetMyCommands(ctx, &bot.SetMyCommandsParams{Commands: commands}); err != nil {
		c.logger.WithField("event", "telegram_commands_error").WithError(err).Warn("failed to register command menu")
	}
}

// splitMessage cuts text into parts of at most limit runes, preferring to cut
// after a newline.
func splitMessage(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var parts []string
	runes := []rune(text)
	for len(runes) > limit {
		cut := limit
		for i := limit; i > 0; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}

	return parts
}

func errorHandler(logger *logrus.Entry) bot.ErrorsHandler {
	if logger == nil {
		logger = logging.Logger()
	}

	return func(err error) {
		if err == nil {
			return
		}

		logger.WithField("event", "telegram_error").WithError(err).Error("telegram polling error")
	}
}

func userID(user *models.User) int64 {
	if user == nil {
		return 0
	}

	return user.ID
}

func messageRef(msg models.MaybeInaccessibleMessage) (chatID int64, messageID int) {
	switch msg.Type {
	case models.MaybeInaccessibleMessageTypeMessage:
		if msg.Message == nil {
			return 0, 0
		}
		return msg.Message.Chat.ID, msg.Message.ID
	case models.MaybeInaccessibleMessageTypeInaccessibleMessage:
		if msg.InaccessibleMessage == nil {
			return 0, 0
		}
		return msg.InaccessibleMessage.Chat.ID, msg.InaccessibleMessage.MessageID
	default:
		return 0, 0
	}
}
