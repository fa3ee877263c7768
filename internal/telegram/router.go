package telegram

import (
	"context"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"emias_bot/internal/feature/profile"
	"emias_bot/internal/logging"
)

// Update kinds and outcomes reported to the observer.
const (
	kindCommand  = "command"
	kindCallback = "callback"
	kindOther    = "other"

	outcomeHandled = "handled"
	outcomeIgnored = "ignored"
	outcomeError   = "error"
)

const textDigestUnavailable = "Сводка по направлениям сейчас недоступна. Попробуйте позже."

type command struct {
	name string
	args string
}

// parseCommand extracts a slash command from message text. The name is
// lower-cased and a @botname suffix is removed.
func parseCommand(text string) (command, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return command{}, false
	}

	head, args, _ := strings.Cut(text[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	head = strings.ToLower(strings.TrimSpace(head))
	if head == "" {
		return command{}, false
	}

	return command{name: head, args: strings.TrimSpace(args)}, true
}

func (c *Client) handleUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, updateTimeout)
	defer cancel()

	requestID := newRequestID()
	switch {
	case update.Message != nil:
		c.handleMessage(ctx, requestID, update.Message)
	case update.CallbackQuery != nil:
		c.handleCallback(ctx, requestID, update.CallbackQuery)
	default:
		c.observe(kindOther, outcomeIgnored)
	}
}

func (c *Client) handleMessage(ctx context.Context, requestID string, msg *models.Message) {
	chatID, fromID := msg.Chat.ID, userID(msg.From)
	log := logging.Enrich(c.logger, logging.Context{ChatID: chatID, UserID: fromID, Event: "telegram_update", RequestID: requestID})

	cmd, ok := parseCommand(msg.Text)
	if !ok || c.profile == nil {
		log.WithField("update_type", "message").Debug("ignoring non-command message")
		c.observe(kindOther, outcomeIgnored)
		return
	}

	log = log.WithField("command", cmd.name)
	log.Info("telegram command received")

	reply, ok := c.dispatch(ctx, chatID, fromID, cmd)
	if !ok {
		c.observe(kindCommand, outcomeIgnored)
		return
	}
	if reply.Text == "" {
		c.observe(kindCommand, outcomeHandled)
		return
	}

	if err := c.Notify(ctx, chatID, reply.Text, reply.Markup); err != nil {
		log.WithError(err).Error("failed to send command reply")
		c.observe(kindCommand, outcomeError)
		return
	}
	c.observe(kindCommand, outcomeHandled)
}

// dispatch runs a command. The boolean is false for unknown or unauthorized
// commands, which get no reply. An empty reply text means the command already
// delivered its own messages.
func (c *Client) dispatch(ctx context.Context, chatID, fromID int64, cmd command) (profile.Reply, bool) {
	switch cmd.name {
	case "help":
		return c.profile.Help(), true
	case "start":
		return c.profile.Start(ctx, chatID, fromID), true
	case "omscard":
		return c.profile.SetInsurance(ctx, chatID, cmd.args), true
	case "datebirth":
		return c.profile.SetBirthDate(ctx, chatID, cmd.args), true
	case "info":
		return c.profile.Info(ctx, chatID), true
	case "referrals":
		return c.referrals(ctx, chatID), true
	case "stats":
		return c.profile.Stats(ctx, fromID)
	default:
		return profile.Reply{}, false
	}
}

func (c *Client) referrals(ctx context.Context, chatID int64) profile.Reply {
	record, reply, ok := c.profile.Referrals(ctx, chatID)
	if !ok {
		return reply
	}
	if c.digest == nil {
		return profile.Reply{Text: textDigestUnavailable}
	}

	// The digest pipeline sends its own messages, including error notices.
	if err := c.digest.DeliverTo(ctx, record); err != nil {
		logging.Enrich(c.logger, logging.Context{ChatID: chatID, Event: "digest_on_demand"}).
			WithError(err).Warn("on-demand digest failed")
	}
	return profile.Reply{}
}

func (c *Client) handleCallback(ctx context.Context, requestID string, query *models.CallbackQuery) {
	chatID, messageID := messageRef(query.Message)
	log := logging.Enrich(c.logger, logging.Context{ChatID: chatID, UserID: userID(&query.From), Event: "telegram_callback", RequestID: requestID}).
		WithField("callback_data", query.Data)

	outcome := c.navigate(ctx, chatID, messageID, query.Data)

	// Telegram shows a spinner until the query is answered.
	if _, err := c.bot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: query.ID,
		Text:            outcome.answer,
	}); err != nil {
		log.WithError(err).Warn("failed to answer callback query")
	}

	result := outcomeHandled
	if outcome.ignored {
		result = outcomeIgnored
	}

	if outcome.markup != nil {
		if _, err := c.bot.EditMessageReplyMarkup(ctx, &bot.EditMessageReplyMarkupParams{
			ChatID:      chatID,
			MessageID:   messageID,
			ReplyMarkup: outcome.markup,
		}); err != nil {
			log.WithError(err).Warn("failed to edit message keyboard")
			result = outcomeError
		}
	}

	if outcome.notice != "" {
		if err := c.Notify(ctx, chatID, outcome.notice, nil); err != nil {
			log.WithError(err).Warn("failed to send callback notice")
			result = outcomeError
		}
	}

	c.observe(kindCallback, result)
}

type callbackResult struct {
	markup  *models.InlineKeyboardMarkup
	notice  string
	answer  string
	ignored bool
}

func (c *Client) navigate(ctx context.Context, chatID int64, messageID int, data string) callbackResult {
	if c.navigator == nil || chatID == 0 || messageID == 0 {
		return callbackResult{ignored: true}
	}

	out := c.navigator.Handle(ctx, chatID, messageID, data)
	return callbackResult{
		markup:  out.Markup,
		notice:  out.Notice,
		answer:  out.Answer,
		ignored: out.Markup == nil && out.Notice == "" && out.Answer == "",
	}
}

func (c *Client) observe(kind, outcome string) {
	if c.observer != nil {
		c.observer.ObserveUpdate(kind, outcome)
	}
}
