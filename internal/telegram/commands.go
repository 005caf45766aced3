package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"mentorbot/internal/models"
)

func (b *Bot) handleCommand(ctx context.Context, m *tgbotapi.Message) {
	switch m.Command() {
	case "start":
		b.sendMessage(m.Chat.ID,
			"🤖 Community Bot\n\n"+
				"I help manage this community by:\n"+
				"• Filtering spam and inappropriate content\n"+
				"• Answering common questions automatically\n"+
				"• Routing complex questions to mentors\n\n"+
				"For admin commands, use /help")
	case "help":
		b.cmdHelp(m)
	case "add_faq":
		b.cmdAddFAQ(ctx, m)
	case "list_faqs":
		b.cmdListFAQs(ctx, m)
	case "delete_faq":
		b.cmdDeleteFAQ(ctx, m)
	case "stats":
		b.cmdStats(ctx, m)
	default:
		b.sendMessage(m.Chat.ID, "Unknown command. Use /help.")
	}
}

func (b *Bot) cmdHelp(m *tgbotapi.Message) {
	if b.isAdmin(m) {
		b.sendMessage(m.Chat.ID,
			"🛠️ Admin Commands\n\n"+
				"• /add_faq question | answer | category — add a FAQ\n"+
				"• /list_faqs — list all FAQs\n"+
				"• /delete_faq <id> — delete a FAQ\n"+
				"• /stats — bot statistics\n"+
				"• /start, /help")
		return
	}
	b.sendMessage(m.Chat.ID,
		"ℹ️ Available Commands\n\n"+
			"• /start — bot introduction\n"+
			"• /help — this help message\n\n"+
			"For questions, just send a message to the group!")
}

func (b *Bot) cmdAddFAQ(ctx context.Context, m *tgbotapi.Message) {
	if !b.requireAdmin(m) {
		return
	}

	args := strings.TrimSpace(m.CommandArguments())
	parts := strings.Split(args, "|")
	if args == "" || len(parts) < 2 {
		b.sendMessage(m.Chat.ID, "❌ Usage: /add_faq question | answer | category")
		return
	}

	question := strings.TrimSpace(parts[0])
	answer := strings.TrimSpace(parts[1])
	var category *string
	if len(parts) > 2 {
		c := strings.TrimSpace(parts[2])
		if c != "" {
			category = &c
		}
	}

	embedCtx, cancel := context.WithTimeout(ctx, b.deps.Config.LLMTimeout())
	vec, err := b.deps.Embedder.Embed(embedCtx, question)
	cancel()
	if err != nil {
		b.deps.Logger.Error("Failed to embed FAQ question", zap.Error(err))
		b.sendMessage(m.Chat.ID, "❌ Failed to compute embedding, FAQ not stored.")
		return
	}

	var createdBy *int64
	if p, err := b.deps.Participants.GetByTelegramID(ctx, m.From.ID); err == nil {
		createdBy = &p.ID
	}

	entry := &models.KnowledgeEntry{
		Question:  question,
		Answer:    answer,
		Category:  category,
		Embedding: vec,
		CreatedBy: createdBy,
	}
	if err := b.deps.Knowledge.Create(ctx, entry); err != nil {
		b.deps.Logger.Error("Failed to store FAQ", zap.Error(err))
		b.sendMessage(m.Chat.ID, "❌ Failed to store FAQ.")
		return
	}

	if err := b.deps.Index.Refresh(ctx); err != nil {
		b.deps.Logger.Warn("Index refresh after FAQ insert failed", zap.Error(err))
	}

	b.sendMessage(m.Chat.ID, fmt.Sprintf("✅ FAQ %d added.", entry.ID))
}

func (b *Bot) cmdListFAQs(ctx context.Context, m *tgbotapi.Message) {
	if !b.requireAdmin(m) {
		return
	}

	entries, err := b.deps.Knowledge.All(ctx)
	if err != nil {
		b.deps.Logger.Error("Failed to list FAQs", zap.Error(err))
		b.sendMessage(m.Chat.ID, "❌ Failed to list FAQs.")
		return
	}
	if len(entries) == 0 {
		b.sendMessage(m.Chat.ID, "No FAQs stored yet.")
		return
	}

	var sb strings.Builder
	sb.WriteString("📚 FAQs\n")
	for _, e := range entries {
		question := e.Question
		if len(question) > 60 {
			question = question[:60] + "..."
		}
		fmt.Fprintf(&sb, "\n%d. %s (matched %d times)", e.ID, question, e.TimesMatched)
	}
	b.sendMessage(m.Chat.ID, sb.String())
}

func (b *Bot) cmdDeleteFAQ(ctx context.Context, m *tgbotapi.Message) {
	if !b.requireAdmin(m) {
		return
	}

	id, err := strconv.ParseInt(strings.TrimSpace(m.CommandArguments()), 10, 64)
	if err != nil {
		b.sendMessage(m.Chat.ID, "❌ Usage: /delete_faq <id>")
		return
	}

	deleted, err := b.deps.Knowledge.Delete(ctx, id)
	if err != nil {
		b.deps.Logger.Error("Failed to delete FAQ", zap.Int64("id", id), zap.Error(err))
		b.sendMessage(m.Chat.ID, "❌ Failed to delete FAQ.")
		return
	}
	if !deleted {
		b.sendMessage(m.Chat.ID, fmt.Sprintf("FAQ %d not found.", id))
		return
	}

	if err := b.deps.Index.Refresh(ctx); err != nil {
		b.deps.Logger.Warn("Index refresh after FAQ delete failed", zap.Error(err))
	}
	b.sendMessage(m.Chat.ID, fmt.Sprintf("✅ FAQ %d deleted.", id))
}

func (b *Bot) cmdStats(ctx context.Context, m *tgbotapi.Message) {
	if !b.requireAdmin(m) {
		return
	}

	participants, _ := b.deps.Participants.Count(ctx)
	messages, _ := b.deps.Messages.Count(ctx)
	suppressed, _ := b.deps.Moderation.CountByAction(ctx, models.ActionSuppress)
	tags, _ := b.deps.Tags.Count(ctx)

	b.sendMessage(m.Chat.ID, fmt.Sprintf(
		"📊 Statistics\n\n"+
			"Participants: %d\n"+
			"Messages: %d\n"+
			"Suppressed: %d\n"+
			"Mentor tags: %d\n"+
			"Indexed FAQs: %d",
		participants, messages, suppressed, tags, b.deps.Index.Size()))
}

func (b *Bot) isAdmin(m *tgbotapi.Message) bool {
	return m.From != nil && b.deps.Config.IsAdmin(m.From.ID)
}

func (b *Bot) requireAdmin(m *tgbotapi.Message) bool {
	if !b.isAdmin(m) {
		b.sendMessage(m.Chat.ID, "⛔ This command is only available to admins.")
		return false
	}
	return true
}
