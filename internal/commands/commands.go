// Package commands implements the visible-command computation, LLM
// intent classification, and command execution rules of a bot's scripted
// UI actions (menus, keyboards, plain messages, multi-command containers).
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"controlplane/internal/llm"
	"controlplane/internal/logbuf"
	"controlplane/internal/registry"
	"controlplane/internal/store"
)

const intentSystemPrompt = "Ты помощник для определения команд. Отвечай кратко и точно."
const noMatchToken = "НЕТ"

// JSONCode is the parsed shape of Command.JSONCode.
type JSONCode struct {
	Type            string          `json:"type"`
	Text            string          `json:"text"`
	WelcomeMessage  string          `json:"welcome_message"`
	Buttons         [][]ButtonSpec  `json:"buttons"`
	OneTime         bool            `json:"one_time"`
	KeyboardButtons [][]string      `json:"keyboard_buttons"`
	Raw             json.RawMessage `json:"-"`
}

type ButtonSpec struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

func ParseJSONCode(raw datatypesJSON) (JSONCode, error) {
	var jc JSONCode
	if len(raw) == 0 {
		return jc, nil
	}
	if err := json.Unmarshal(raw, &jc); err != nil {
		return jc, err
	}
	jc.Raw = json.RawMessage(raw)
	return jc, nil
}

// datatypesJSON avoids importing gorm.io/datatypes here just for the
// byte-slice-like underlying type; store.Command.JSONCode satisfies it.
type datatypesJSON = []byte

// Engine implements visible-command computation, intent classification,
// and execution.
type Engine struct {
	store    *store.Store
	registry *registry.Registry
	llm      *llm.Adapter
	logs     *logbuf.Buffer
	cache    DecisionCache
}

// DecisionCache is the optional short-TTL cache for
// (command-set, utterance) -> command name decisions described in
// SPEC_FULL.md §4.5. A nil DecisionCache disables caching.
type DecisionCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration)
}

func New(st *store.Store, reg *registry.Registry, adapter *llm.Adapter, logs *logbuf.Buffer, cache DecisionCache) *Engine {
	return &Engine{store: st, registry: reg, llm: adapter, logs: logs, cache: cache}
}

// VisibleCommands implements the visibility rules of spec.md §4.5 for
// both the text/intent path and the callback path.
func (e *Engine) VisibleCommands(bot store.Bot, chatID int64) ([]store.Command, error) {
	all, err := e.store.ActiveCommandsForBot(bot.ID)
	if err != nil {
		return nil, err
	}

	activeMultiID, active := e.registry.Get(bot.ID, chatID)
	if !active {
		return all, nil
	}

	var multi *store.Command
	for i := range all {
		if all[i].ID == activeMultiID {
			multi = &all[i]
			break
		}
	}
	if multi == nil {
		// Stale registry entry pointing at a deleted/deactivated command.
		return all, nil
	}

	var visible []store.Command
	for _, c := range all {
		switch {
		case c.ParentMultiCommandID != nil && *c.ParentMultiCommandID == multi.ID:
			visible = append(visible, c)
		case multi.AllowExternalCommands && c.ParentMultiCommandID == nil:
			visible = append(visible, c)
		}
	}
	return visible, nil
}

// ClassifyIntent finds which visible command (if any) a free-form
// utterance refers to, per spec.md §4.5.
func (e *Engine) ClassifyIntent(ctx context.Context, bot store.Bot, visible []store.Command, utterance string) (*store.Command, error) {
	if len(visible) == 0 {
		return nil, nil
	}

	cacheKey := intentCacheKey(visible, utterance)
	if e.cache != nil {
		if name, ok := e.cache.Get(ctx, cacheKey); ok {
			return matchByName(visible, name), nil
		}
	}

	var b strings.Builder
	b.WriteString("Доступные команды:\n")
	for _, c := range visible {
		b.WriteString("- " + c.Name)
		if c.Description != "" {
			b.WriteString(": " + c.Description)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nСообщение пользователя: " + utterance + "\n")
	b.WriteString("Если сообщение соответствует одной из команд, ответь только её именем. Если нет — ответь \"" + noMatchToken + "\".")

	cfg := llm.ChatConfig{
		APIURL:       bot.APIURL,
		APIKey:       bot.APIKey,
		Model:        bot.AIModel,
		SystemPrompt: intentSystemPrompt,
	}
	reply, err := e.llm.Complete(ctx, cfg, []llm.Message{{Role: llm.RoleUser, Content: b.String()}})
	if err != nil {
		return nil, err
	}

	name := ""
	if !strings.Contains(strings.ToUpper(reply), noMatchToken) {
		if m := matchByReply(visible, reply); m != nil {
			name = m.Name
		}
	}

	if e.cache != nil {
		e.cache.Set(ctx, cacheKey, name, 30*time.Second)
	}
	return matchByName(visible, name), nil
}

func matchByReply(visible []store.Command, reply string) *store.Command {
	lower := strings.ToLower(reply)
	for i := range visible {
		if strings.Contains(lower, strings.ToLower(visible[i].Name)) {
			return &visible[i]
		}
	}
	return nil
}

func matchByName(visible []store.Command, name string) *store.Command {
	if name == "" {
		return nil
	}
	for i := range visible {
		if visible[i].Name == name {
			return &visible[i]
		}
	}
	return nil
}

func intentCacheKey(visible []store.Command, utterance string) string {
	var b strings.Builder
	for _, c := range visible {
		b.WriteString(c.Name)
		b.WriteString(",")
	}
	b.WriteString("|")
	b.WriteString(strings.ToLower(strings.TrimSpace(utterance)))
	return b.String()
}

// MatchCallback matches a callback_data payload to a visible command by
// exact name, no intent probe, per spec.md §4.6.2.
func MatchCallback(visible []store.Command, data string) *store.Command {
	for i := range visible {
		if visible[i].Name == data {
			return &visible[i]
		}
	}
	return nil
}

// ExecInput carries everything Execute needs to run or edit a command's
// scripted reply.
type ExecInput struct {
	Bot       store.Bot
	Command   store.Command
	ChatID    int64
	MessageID int // 0 means "send new", non-zero means "try edit in place"
}

// Execute implements spec.md §4.5's per-type execution rules.
func (e *Engine) Execute(ctx context.Context, bot *tgbotapi.BotAPI, in ExecInput) error {
	jc, err := ParseJSONCode(in.Command.JSONCode)
	if err != nil {
		e.logs.Append(logbuf.LevelError, logbuf.CategoryBot, "не удалось разобрать json_code команды", err.Error())
		return e.sendOrEdit(bot, in, tgbotapi.NewMessage(in.ChatID, "Ошибка выполнения команды."))
	}

	switch jc.Type {
	case "multi_command":
		e.registry.Set(in.Bot.ID, in.ChatID, in.Command.ID)
		text := jc.WelcomeMessage
		if text == "" {
			text = in.Command.Description
		}
		if text == "" {
			text = "Добро пожаловать в раздел \"" + in.Command.Name + "\"."
		}
		return e.sendOrEdit(bot, in, tgbotapi.NewMessage(in.ChatID, text))

	case "menu":
		msg := tgbotapi.NewMessage(in.ChatID, jc.Text)
		if len(jc.Buttons) > 0 {
			var rows [][]tgbotapi.InlineKeyboardButton
			for _, row := range jc.Buttons {
				var btns []tgbotapi.InlineKeyboardButton
				for _, b := range row {
					btns = append(btns, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.CallbackData))
				}
				rows = append(rows, btns)
			}
			msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
		}
		return e.sendOrEdit(bot, in, msg)

	case "keyboard":
		msg := tgbotapi.NewMessage(in.ChatID, jc.Text)
		var rows [][]tgbotapi.KeyboardButton
		for _, row := range jc.KeyboardButtons {
			var btns []tgbotapi.KeyboardButton
			for _, label := range row {
				btns = append(btns, tgbotapi.NewKeyboardButton(label))
			}
			rows = append(rows, btns)
		}
		markup := tgbotapi.NewReplyKeyboard(rows...)
		markup.ResizeKeyboard = true
		markup.OneTimeKeyboard = jc.OneTime
		msg.ReplyMarkup = markup
		_, err := bot.Send(msg) // keyboard messages are always sent new, never edited
		return err

	case "message":
		return e.sendOrEdit(bot, in, tgbotapi.NewMessage(in.ChatID, jc.Text))

	default:
		text := jc.Text
		if text == "" {
			pretty, _ := json.MarshalIndent(jc.Raw, "", "  ")
			text = string(pretty)
		}
		return e.sendOrEdit(bot, in, tgbotapi.NewMessage(in.ChatID, text))
	}
}

// sendOrEdit implements the edit-in-place failure handling of spec.md
// §4.5: unmodified content is a silent no-op, a missing/uneditable
// message falls back to a fresh send, any other error is logged and
// surfaced to the chat.
func (e *Engine) sendOrEdit(bot *tgbotapi.BotAPI, in ExecInput, msg tgbotapi.MessageConfig) error {
	if in.MessageID == 0 {
		_, err := bot.Send(msg)
		return err
	}

	edit := tgbotapi.NewEditMessageText(in.ChatID, in.MessageID, msg.Text)
	if kb, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup); ok {
		edit.ReplyMarkup = &kb
	}

	_, err := bot.Send(edit)
	if err == nil {
		return nil
	}

	errText := err.Error()
	switch {
	case strings.Contains(errText, "message is not modified"):
		e.logs.Append(logbuf.LevelInfo, logbuf.CategoryBot, "содержимое сообщения не изменилось, редактирование пропущено", "")
		return nil
	case strings.Contains(errText, "message to edit not found"), strings.Contains(errText, "message can't be edited"):
		_, sendErr := bot.Send(msg)
		return sendErr
	default:
		e.logs.Append(logbuf.LevelError, logbuf.CategoryBot, "ошибка редактирования сообщения", errText)
		_, _ = bot.Send(tgbotapi.NewMessage(in.ChatID, "Ошибка выполнения команды."))
		return fmt.Errorf("edit failed: %w", err)
	}
}
