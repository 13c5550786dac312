package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"skyclaw/pkg/bus"
	"skyclaw/pkg/channel"
	"skyclaw/pkg/config"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

const channelName = "telegram"
const messagePreviewLimit = 240
const typingRefreshInterval = 4 * time.Second
const typingMaxDuration = 2 * time.Minute

// Adapter bridges Telegram updates into gateway inbound messages and
// delivers outbound responses back to the originating chats.
type Adapter struct {
	cfg       config.TelegramConfig
	allowFrom map[string]struct{}
	log       *slog.Logger

	mu        sync.Mutex
	bot       *telego.Bot
	lastChats map[string]int64
	typing    map[int64]context.CancelFunc
}

// NewAdapter validates Telegram configuration and constructs an adapter instance.
func NewAdapter(cfg config.TelegramConfig, log *slog.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("channels.telegram.token is required")
	}

	if log == nil {
		log = slog.Default()
	}

	return &Adapter{
		cfg:       cfg,
		allowFrom: allowFromSet(cfg.AllowFrom),
		log:       log.With("component", "channel.telegram"),
		lastChats: make(map[string]int64),
		typing:    make(map[int64]context.CancelFunc),
	}, nil
}

// Name returns the channel identifier used in events and routing.
func (a *Adapter) Name() string {
	return channelName
}

// Run starts Telegram long polling and pushes each accepted message into
// the gateway intake handler. It blocks until ctx is cancelled.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	bot, err := telego.NewBot(strings.TrimSpace(a.cfg.Token))
	if err != nil {
		return fmt.Errorf("initialize telegram bot: %w", err)
	}

	a.mu.Lock()
	a.bot = bot
	a.mu.Unlock()

	updates, err := bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	a.log.Info("Telegram channel started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil
				}
				return errors.New("telegram updates channel closed")
			}

			message := update.Message
			if message == nil {
				continue
			}

			content := strings.TrimSpace(message.Text)
			if content == "" {
				// Non-text updates are ignored; the mailbox carries text content.
				continue
			}
			if message.From == nil {
				a.log.Debug("Ignoring message without sender")
				continue
			}

			senderID := strconv.FormatInt(message.From.ID, 10)
			if !a.senderAllowed(senderID) {
				a.log.Debug("Ignoring message from unauthorized sender", "sender_id", senderID)
				continue
			}

			chatID := strconv.FormatInt(message.Chat.ID, 10)
			a.rememberChat(senderID, message.Chat.ID)

			inbound := bus.InboundMessage{
				Channel:  channelName,
				SenderID: senderID,
				ChatID:   chatID,
				Content:  content,
				Metadata: map[string]string{
					"update_id": strconv.Itoa(update.UpdateID),
				},
			}
			a.log.Info("Received message", "chat_id", chatID, "sender_id", senderID, "content", previewText(content))

			a.startTypingIndicator(ctx, bot, message.Chat.ID)

			if err := handler(ctx, inbound); err != nil {
				a.stopTypingIndicator(message.Chat.ID)
				a.log.Error("Failed to accept inbound message", "error", err)
				if _, err := bot.SendMessage(ctx, tu.Message(tu.ID(message.Chat.ID), "Sorry, I could not accept that message. Please try again.")); err != nil {
					a.log.Error("Failed to send telegram message", "error", err)
				}
			}
		}
	}
}

// Deliver sends one outbound response to its Telegram chat. When the
// response carries no chat handle, the sender's last seen chat is used.
func (a *Adapter) Deliver(ctx context.Context, msg bus.OutboundMessage) error {
	bot := a.currentBot()
	if bot == nil {
		return errors.New("telegram adapter is not running")
	}

	chatID, err := a.resolveChat(msg)
	if err != nil {
		return err
	}

	a.stopTypingIndicator(chatID)

	text := strings.TrimSpace(msg.Content)
	if text == "" {
		text = strings.TrimSpace(msg.Error)
	}
	if text == "" {
		return nil
	}

	a.log.Info("Sending message", "chat_id", chatID, "user_id", msg.UserID, "content", previewText(text))

	if _, err := bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text)); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

func (a *Adapter) resolveChat(msg bus.OutboundMessage) (int64, error) {
	if trimmed := strings.TrimSpace(msg.ChatID); trimmed != "" {
		chatID, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid telegram chat id %q", msg.ChatID)
		}
		return chatID, nil
	}

	a.mu.Lock()
	chatID, ok := a.lastChats[strings.TrimSpace(msg.UserID)]
	a.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("no known telegram chat for user %q", msg.UserID)
	}
	return chatID, nil
}

func (a *Adapter) rememberChat(senderID string, chatID int64) {
	a.mu.Lock()
	a.lastChats[senderID] = chatID
	a.mu.Unlock()
}

func (a *Adapter) currentBot() *telego.Bot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bot
}

// senderAllowed checks whether a sender is permitted by allow_from config.
//
// When no allow list is configured, all senders are accepted.
func (a *Adapter) senderAllowed(senderID string) bool {
	if len(a.allowFrom) == 0 {
		return true
	}

	_, ok := a.allowFrom[strings.TrimSpace(senderID)]
	return ok
}

// allowFromSet normalizes allow_from values into a lookup set.
func allowFromSet(allowFrom []string) map[string]struct{} {
	if len(allowFrom) == 0 {
		return nil
	}

	allowed := make(map[string]struct{}, len(allowFrom))
	for _, value := range allowFrom {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}

	if len(allowed) == 0 {
		return nil
	}

	return allowed
}

// previewText returns a bounded log-safe preview of message text.
func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	return trimmed[:messagePreviewLimit] + "..."
}

// startTypingIndicator sends an initial typing action and refreshes it
// until the chat's response is delivered or typingMaxDuration elapses.
func (a *Adapter) startTypingIndicator(ctx context.Context, bot *telego.Bot, chatID int64) {
	typingCtx, cancel := context.WithTimeout(ctx, typingMaxDuration)

	a.mu.Lock()
	if previous, ok := a.typing[chatID]; ok {
		previous()
	}
	a.typing[chatID] = cancel
	a.mu.Unlock()

	sendTyping := func() {
		if err := bot.SendChatAction(typingCtx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping)); err != nil && typingCtx.Err() == nil {
			a.log.Debug("Failed to send typing indicator", "chat_id", chatID, "error", err)
		}
	}

	sendTyping()

	go func() {
		defer cancel()
		ticker := time.NewTicker(typingRefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-typingCtx.Done():
				return
			case <-ticker.C:
				sendTyping()
			}
		}
	}()
}

func (a *Adapter) stopTypingIndicator(chatID int64) {
	a.mu.Lock()
	cancel, ok := a.typing[chatID]
	if ok {
		delete(a.typing, chatID)
	}
	a.mu.Unlock()

	if ok {
		cancel()
	}
}
