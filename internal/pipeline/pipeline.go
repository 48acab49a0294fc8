// Package pipeline implements the per-incoming-message orchestration:
// fetch fresh bot config, resolve visible commands, delegate to the
// Command Engine or place a memory-aware LLM call, and persist the
// exchange.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"controlplane/internal/commands"
	"controlplane/internal/llm"
	"controlplane/internal/logbuf"
	"controlplane/internal/registry"
	"controlplane/internal/stats"
	"controlplane/internal/store"
)

const (
	msgNonText     = "Извините, я работаю только с текстовыми сообщениями."
	msgInternalErr = "Извините, произошла ошибка при обработке вашего сообщения."
	preReplyDelay  = 500 * time.Millisecond
)

const preReplySystemPrompt = "Кратко (1-2 предложения) подтверди запрос пользователя, не перечисляя пункты меню."

// ActiveSet reports whether a bot id currently has a running worker, per
// spec.md §4.6 step 2's health check.
type ActiveSet interface {
	IsActive(botID uint) bool
}

// Pipeline is constructed once per process and shared by every bot
// worker; it always re-reads bot configuration from the Store.
type Pipeline struct {
	store    *store.Store
	registry *registry.Registry
	engine   *commands.Engine
	llm      *llm.Adapter
	logs     *logbuf.Buffer
	stats    *stats.Stats
	active   ActiveSet
}

func New(st *store.Store, reg *registry.Registry, engine *commands.Engine, adapter *llm.Adapter, logs *logbuf.Buffer, st2 *stats.Stats, active ActiveSet) *Pipeline {
	return &Pipeline{store: st, registry: reg, engine: engine, llm: adapter, logs: logs, stats: st2, active: active}
}

// HandleMessage implements spec.md §4.6 for a plain incoming message.
func (p *Pipeline) HandleMessage(ctx context.Context, bot *tgbotapi.BotAPI, botID uint, msg *tgbotapi.Message) {
	correlationID := uuid.NewString()
	p.stats.IncomingMessage()

	defer func() {
		if r := recover(); r != nil {
			p.logs.Append(logbuf.LevelError, logbuf.CategoryBot, "паника при обработке сообщения", correlationID)
			p.stats.Failure()
			_, _ = bot.Send(tgbotapi.NewMessage(msg.Chat.ID, msgInternalErr))
		}
	}()

	freshBot, err := p.store.Bot(botID)
	if err != nil {
		p.logs.Append(logbuf.LevelError, logbuf.CategoryBot, "не удалось перечитать конфигурацию бота", correlationID)
		p.stats.Failure()
		return
	}

	if !freshBot.IsRunning || !p.active.IsActive(botID) {
		p.logs.Append(logbuf.LevelWarning, logbuf.CategoryBot, "сообщение отброшено: бот не активен", correlationID)
		return
	}

	if msg.Text == "" {
		_, _ = bot.Send(tgbotapi.NewMessage(msg.Chat.ID, msgNonText))
		return
	}

	if err := p.handleText(ctx, bot, *freshBot, msg.Chat.ID, msg.Text, correlationID); err != nil {
		p.logs.Append(logbuf.LevelError, logbuf.CategoryBot, "ошибка обработки сообщения", err.Error()+" "+correlationID)
		p.stats.Failure()
		_, _ = bot.Send(tgbotapi.NewMessage(msg.Chat.ID, msgInternalErr))
		return
	}
	p.stats.Success()
}

func (p *Pipeline) handleText(ctx context.Context, bot *tgbotapi.BotAPI, freshBot store.Bot, chatID int64, text, correlationID string) error {
	ctx = llm.WithCallMeta(ctx, freshBot.ID, chatID)
	visible, err := p.engine.VisibleCommands(freshBot, chatID)
	if err != nil {
		return err
	}

	matched, err := p.engine.ClassifyIntent(ctx, freshBot, visible, text)
	if err != nil {
		p.logs.Append(logbuf.LevelWarning, logbuf.CategoryAPI, "не удалось классифицировать намерение, переходим к обычному ответу", err.Error()+" "+correlationID)
	}

	if matched != nil {
		if err := p.preReply(ctx, bot, freshBot, chatID, text, *matched); err != nil {
			p.logs.Append(logbuf.LevelWarning, logbuf.CategoryAPI, "не удалось отправить предварительный ответ", err.Error()+" "+correlationID)
		}
		return p.engine.Execute(ctx, bot, commands.ExecInput{Bot: freshBot, Command: *matched, ChatID: chatID})
	}

	return p.memoryAwareReply(ctx, bot, freshBot, chatID, text)
}

// preReply implements the "pre-action natural reply" of spec.md §4.5:
// skipped for multi-command entries, present for every other match.
func (p *Pipeline) preReply(ctx context.Context, bot *tgbotapi.BotAPI, freshBot store.Bot, chatID int64, text string, matched store.Command) error {
	jc, err := commands.ParseJSONCode(matched.JSONCode)
	if err != nil || jc.Type == "multi_command" {
		return nil
	}

	cfg := llm.ChatConfig{
		APIURL:       freshBot.APIURL,
		APIKey:       freshBot.APIKey,
		Model:        freshBot.AIModel,
		SystemPrompt: preReplySystemPrompt,
	}
	reply, err := p.llm.Complete(ctx, cfg, []llm.Message{{Role: llm.RoleUser, Content: text}})
	if err != nil {
		return err
	}

	if _, err := bot.Send(tgbotapi.NewMessage(chatID, reply)); err != nil {
		return err
	}
	time.Sleep(preReplyDelay)
	return nil
}

// memoryAwareReply implements spec.md §4.6.1.
func (p *Pipeline) memoryAwareReply(ctx context.Context, bot *tgbotapi.BotAPI, freshBot store.Bot, chatID int64, text string) error {
	systemPrompt := p.composeSystemPrompt(freshBot)

	var messages []llm.Message
	if freshBot.MemoryEnabled {
		n := freshBot.ClampedMemoryMessagesCount()
		history, err := p.store.RecentHistory(freshBot.ID, chatID, n)
		if err != nil {
			return err
		}
		for i := len(history) - 1; i >= 0; i-- {
			messages = append(messages,
				llm.Message{Role: llm.RoleUser, Content: history[i].UserMessage},
				llm.Message{Role: llm.RoleAssistant, Content: history[i].AIResponse},
			)
		}
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: text})

	cfg := llm.ChatConfig{
		APIURL:       freshBot.APIURL,
		APIKey:       freshBot.APIKey,
		Model:        freshBot.AIModel,
		SystemPrompt: systemPrompt,
	}
	reply, err := p.llm.Complete(ctx, cfg, messages)
	if err != nil {
		return err
	}

	if _, err := bot.Send(tgbotapi.NewMessage(chatID, reply)); err != nil {
		return err
	}

	return p.store.AppendHistory(freshBot.ID, chatID, text, reply)
}

func (p *Pipeline) composeSystemPrompt(freshBot store.Bot) string {
	if freshBot.DatabaseID == nil {
		return freshBot.SystemPrompt
	}
	db, err := p.store.Database(*freshBot.DatabaseID)
	if err != nil {
		return freshBot.SystemPrompt
	}
	return llm.ComposeSystemPrompt(freshBot.SystemPrompt, db.Type, db.Content)
}

// HandleCallback implements spec.md §4.6.2.
func (p *Pipeline) HandleCallback(ctx context.Context, bot *tgbotapi.BotAPI, botID uint, cb *tgbotapi.CallbackQuery) {
	correlationID := uuid.NewString()
	p.stats.IncomingMessage()

	// Telegram requires every callback query to be answered to clear the
	// client-side loading spinner, win or lose.
	defer func() {
		_, _ = bot.Request(tgbotapi.NewCallback(cb.ID, ""))
	}()

	freshBot, err := p.store.Bot(botID)
	if err != nil {
		p.logs.Append(logbuf.LevelError, logbuf.CategoryBot, "не удалось перечитать конфигурацию бота", correlationID)
		p.stats.Failure()
		return
	}

	if !freshBot.IsRunning || !p.active.IsActive(botID) {
		p.logs.Append(logbuf.LevelWarning, logbuf.CategoryBot, "callback отброшен: бот не активен", correlationID)
		return
	}

	chatID := cb.Message.Chat.ID
	visible, err := p.engine.VisibleCommands(*freshBot, chatID)
	if err != nil {
		p.logs.Append(logbuf.LevelError, logbuf.CategoryBot, "ошибка получения видимых команд", err.Error()+" "+correlationID)
		p.stats.Failure()
		return
	}

	matched := commands.MatchCallback(visible, cb.Data)
	if matched == nil {
		return
	}

	if err := p.engine.Execute(ctx, bot, commands.ExecInput{
		Bot:       *freshBot,
		Command:   *matched,
		ChatID:    chatID,
		MessageID: cb.Message.MessageID,
	}); err != nil {
		p.logs.Append(logbuf.LevelError, logbuf.CategoryBot, "ошибка выполнения команды по callback", err.Error()+" "+correlationID)
		p.stats.Failure()
		return
	}
	p.stats.Success()
}
