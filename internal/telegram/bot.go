package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"mentorbot/internal/config"
	"mentorbot/internal/dispatch"
	"mentorbot/internal/index"
	"mentorbot/internal/models"
	"mentorbot/internal/pipeline"
	"mentorbot/internal/provider"
	"mentorbot/internal/repository"
	"mentorbot/internal/sequencer"
)

// Deps collects the collaborators the bot drives.
type Deps struct {
	Config       *config.Config
	Participants repository.ParticipantRepository
	Messages     repository.MessageRepository
	Knowledge    repository.KnowledgeRepository
	Moderation   repository.ModerationRepository
	Tags         repository.MentorTagRepository
	Pipeline     *pipeline.Pipeline
	Sequencer    *sequencer.Sequencer
	Index        *index.Index
	Embedder     provider.Embedder
	Logger       *zap.Logger
}

// Bot receives Telegram updates, feeds group messages through the decision
// pipeline, and serves admin commands. It also implements the
// dispatch.Transport contract.
type Bot struct {
	api        *tgbotapi.BotAPI
	deps       Deps
	dispatcher *dispatch.Dispatcher
}

// SetDispatcher wires the action dispatcher. The bot is itself the transport
// the dispatcher drives, so the dispatcher is attached after construction.
func (b *Bot) SetDispatcher(d *dispatch.Dispatcher) {
	b.dispatcher = d
}

// NewBot creates and authorizes the Telegram bot.
func NewBot(deps Deps) (*Bot, error) {
	botAPI, err := tgbotapi.NewBotAPI(deps.Config.Telegram.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot API: %w", err)
	}

	deps.Logger.Info("Telegram bot authorized", zap.String("username", botAPI.Self.UserName))
	return &Bot{api: botAPI, deps: deps}, nil
}

// Start begins listening for updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	b.deps.Logger.Info("Telegram bot started, waiting for updates...")

	for {
		select {
		case <-ctx.Done():
			b.deps.Logger.Info("Telegram bot shutting down...")
			b.api.StopReceivingUpdates()
			return nil
		case update := <-updates:
			if update.Message == nil {
				continue
			}
			b.handleUpdate(ctx, update.Message)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, m *tgbotapi.Message) {
	if len(m.NewChatMembers) > 0 {
		b.handleNewMembers(ctx, m.NewChatMembers)
		return
	}
	if m.IsCommand() {
		b.handleCommand(ctx, m)
		return
	}
	if m.Text == "" || m.From == nil {
		return
	}
	b.handleText(ctx, m)
}

// handleText records the message and admits its decision into the per-chat
// queue. Intake runs serially over the update stream, so admission order is
// arrival order.
func (b *Bot) handleText(ctx context.Context, m *tgbotapi.Message) {
	participant, err := b.getOrCreateParticipant(ctx, m.From)
	if err != nil {
		b.deps.Logger.Error("Failed to upsert participant",
			zap.Int64("telegram_id", m.From.ID), zap.Error(err))
		return
	}

	history, err := b.deps.Messages.RecentTexts(ctx, m.Chat.ID, b.deps.Config.Pipeline.HistoryDepth)
	if err != nil {
		b.deps.Logger.Warn("Failed to load recent history", zap.Error(err))
		history = nil
	}

	msg := &models.Message{
		ParticipantID:     participant.ID,
		ChatID:            m.Chat.ID,
		TelegramMessageID: int64(m.MessageID),
		Text:              m.Text,
	}
	if err := b.deps.Messages.Save(ctx, msg); err != nil {
		b.deps.Logger.Error("Failed to save message", zap.Error(err))
		return
	}

	if err := b.deps.Participants.TouchActivity(ctx, participant.ID); err != nil {
		b.deps.Logger.Warn("Failed to touch participant activity", zap.Error(err))
	}

	dctx := pipeline.Context{
		Elevated: participant.Elevated(),
		History:  history,
	}

	b.deps.Sequencer.Admit(m.Chat.ID, func(ctx context.Context) {
		outcome, err := b.deps.Pipeline.Decide(ctx, msg, dctx)
		if err != nil {
			b.deps.Logger.Warn("Decision cancelled",
				zap.Int64("message_id", msg.ID), zap.Error(err))
			return
		}

		result, err := b.dispatcher.Apply(ctx, msg, outcome)
		if err != nil {
			b.deps.Logger.Error("Failed to apply outcome",
				zap.Int64("message_id", msg.ID),
				zap.String("outcome", outcome.Kind.String()),
				zap.Error(err))
			return
		}

		b.deps.Logger.Debug("Message decided",
			zap.Int64("message_id", msg.ID),
			zap.String("outcome", outcome.Kind.String()),
			zap.Bool("already_applied", result.AlreadyApplied))
	})
}

func (b *Bot) handleNewMembers(ctx context.Context, members []tgbotapi.User) {
	// New members are recorded silently; the pinned group message covers
	// onboarding.
	for _, member := range members {
		if member.IsBot {
			continue
		}
		if _, err := b.getOrCreateParticipant(ctx, &member); err != nil {
			b.deps.Logger.Error("Failed to record new member",
				zap.Int64("telegram_id", member.ID), zap.Error(err))
			continue
		}
		b.deps.Logger.Info("New member recorded", zap.Int64("telegram_id", member.ID))
	}
}

func (b *Bot) getOrCreateParticipant(ctx context.Context, u *tgbotapi.User) (*models.Participant, error) {
	isAdmin := b.deps.Config.IsAdmin(u.ID)

	p, err := b.deps.Participants.GetByTelegramID(ctx, u.ID)
	if errors.Is(err, repository.ErrNotFound) {
		p = &models.Participant{
			TelegramID: u.ID,
			Username:   optional(u.UserName),
			FirstName:  optional(u.FirstName),
			LastName:   optional(u.LastName),
			IsAdmin:    isAdmin,
		}
		if err := b.deps.Participants.Create(ctx, p); err != nil {
			return nil, err
		}
		return p, nil
	}
	if err != nil {
		return nil, err
	}

	if p.IsAdmin != isAdmin {
		if err := b.deps.Participants.SetElevation(ctx, u.ID, isAdmin, p.IsMentor, p.ExpertiseDomains); err != nil {
			return nil, err
		}
		p.IsAdmin = isAdmin
	}
	return p, nil
}

// DeleteMessage removes a message from the chat. A message another actor
// already removed maps to ErrAlreadyGone.
func (b *Bot) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	del := tgbotapi.NewDeleteMessage(chatID, int(messageID))
	if _, err := b.api.Request(del); err != nil {
		if strings.Contains(err.Error(), "message to delete not found") {
			return dispatch.ErrAlreadyGone
		}
		return fmt.Errorf("failed to delete message %d: %w", messageID, err)
	}
	return nil
}

// SendReply posts text as a reply to the given message.
func (b *Bot) SendReply(ctx context.Context, chatID int64, replyToMessageID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = int(replyToMessageID)
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send reply: %w", err)
	}
	return nil
}

// SendMarkdownReply posts Markdown-formatted text as a reply. Mentor
// mentions for users without a username are tg://user links, which Telegram
// only renders under a parse mode.
func (b *Bot) SendMarkdownReply(ctx context.Context, chatID int64, replyToMessageID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = int(replyToMessageID)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send reply: %w", err)
	}
	return nil
}

// sendMessage is a helper to send a simple text message.
func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.deps.Logger.Error("Failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
