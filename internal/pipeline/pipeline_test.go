package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"gorm.io/datatypes"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"controlplane/internal/commands"
	"controlplane/internal/llm"
	"controlplane/internal/logbuf"
	"controlplane/internal/registry"
	"controlplane/internal/stats"
	"controlplane/internal/store"
)

// alwaysActive implements ActiveSet without needing a real supervisor.
type alwaysActive bool

func (a alwaysActive) IsActive(uint) bool { return bool(a) }

// newFakeLLM answers every chat-completion request with reply, the way
// internal/llm/http_test.go mocks a generic OpenAI-compatible provider.
func newFakeLLM(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": reply}},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestPipeline(t *testing.T, active bool) (*Pipeline, *store.Store, *fakeTelegram) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	reg := registry.New()
	logs := logbuf.New(nil)
	adapter := llm.New(nil)
	engine := commands.New(st, reg, adapter, logs, nil)
	statsBuf := stats.New()

	pipe := New(st, reg, engine, adapter, logs, statsBuf, alwaysActive(active))
	ft := newFakeTelegram(t)
	return pipe, st, ft
}

func createBotForTest(t *testing.T, st *store.Store, apiURL string) *store.Bot {
	t.Helper()
	b := &store.Bot{Name: "b", Token: "t", IsRunning: true, APIURL: apiURL, AIModel: "gpt-test"}
	if err := st.CreateBot(b); err != nil {
		t.Fatalf("CreateBot: %v", err)
	}
	return b
}

func TestHandleMessageInactiveBotIsDropped(t *testing.T) {
	pipe, st, ft := newTestPipeline(t, false)
	llmSrv := newFakeLLM(t, "start")
	bot := createBotForTest(t, st, llmSrv.URL+"/v1")

	msg := &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1}, Text: "hi"}
	pipe.HandleMessage(context.Background(), ft.bot(t), bot.ID, msg)

	if len(ft.sentTexts) != 0 {
		t.Errorf("expected no reply for an inactive bot, got %+v", ft.sentTexts)
	}
}

func TestHandleMessageNonTextRepliesWithNonTextNotice(t *testing.T) {
	llmSrv := newFakeLLM(t, "start")
	pipe, st, ft := newTestPipeline(t, true)
	bot := createBotForTest(t, st, llmSrv.URL+"/v1")

	msg := &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1}}
	pipe.HandleMessage(context.Background(), ft.bot(t), bot.ID, msg)

	if len(ft.sentTexts) != 1 || ft.sentTexts[0] != msgNonText {
		t.Errorf("expected the non-text notice, got %+v", ft.sentTexts)
	}
}

func TestHandleMessageMatchedCommandExecutes(t *testing.T) {
	llmSrv := newFakeLLM(t, "start")
	pipe, st, ft := newTestPipeline(t, true)
	bot := createBotForTest(t, st, llmSrv.URL+"/v1")

	cmd := &store.Command{BotID: bot.ID, Name: "start", IsActive: true, JSONCode: datatypes.JSON(`{"type":"message","text":"Done!"}`)}
	if err := st.CreateCommand(cmd); err != nil {
		t.Fatalf("CreateCommand: %v", err)
	}

	msg := &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1}, Text: "start please"}
	pipe.HandleMessage(context.Background(), ft.bot(t), bot.ID, msg)

	found := false
	for _, text := range ft.sentTexts {
		if text == "Done!" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected the matched command's reply among sent texts, got %+v", ft.sentTexts)
	}
}

func TestHandleMessageNoMatchUsesMemoryAwareReply(t *testing.T) {
	llmSrv := newFakeLLM(t, "Здравствуйте, чем могу помочь?")
	pipe, st, ft := newTestPipeline(t, true)
	bot := createBotForTest(t, st, llmSrv.URL+"/v1")
	bot.MemoryEnabled = true
	if err := st.UpdateBot(bot); err != nil {
		t.Fatalf("UpdateBot: %v", err)
	}

	msg := &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1}, Text: "hello"}
	pipe.HandleMessage(context.Background(), ft.bot(t), bot.ID, msg)

	if len(ft.sentTexts) != 1 || ft.sentTexts[0] != "Здравствуйте, чем могу помочь?" {
		t.Fatalf("expected the LLM's reply sent, got %+v", ft.sentTexts)
	}

	history, err := st.RecentHistory(bot.ID, 1, 10)
	if err != nil {
		t.Fatalf("RecentHistory: %v", err)
	}
	if len(history) != 1 || history[0].UserMessage != "hello" {
		t.Errorf("expected the exchange persisted to history, got %+v", history)
	}
}

func TestHandleCallbackMatchedCommandEditsInPlace(t *testing.T) {
	llmSrv := newFakeLLM(t, "start")
	pipe, st, ft := newTestPipeline(t, true)
	bot := createBotForTest(t, st, llmSrv.URL+"/v1")

	cmd := &store.Command{BotID: bot.ID, Name: "menu_root", IsActive: true, JSONCode: datatypes.JSON(`{"type":"message","text":"Menu!"}`)}
	if err := st.CreateCommand(cmd); err != nil {
		t.Fatalf("CreateCommand: %v", err)
	}

	cb := &tgbotapi.CallbackQuery{
		ID:      "cb1",
		Data:    "menu_root",
		Message: &tgbotapi.Message{MessageID: 7, Chat: &tgbotapi.Chat{ID: 1}},
	}
	pipe.HandleCallback(context.Background(), ft.bot(t), bot.ID, cb)

	if ft.callbackAnswers != 1 {
		t.Errorf("expected the callback query to be answered exactly once, got %d", ft.callbackAnswers)
	}
	found := false
	for _, text := range ft.sentTexts {
		if text == "Menu!" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected the matched command's text among sent/edited texts, got %+v", ft.sentTexts)
	}
}

func TestHandleCallbackUnmatchedDataIsIgnored(t *testing.T) {
	llmSrv := newFakeLLM(t, "start")
	pipe, st, ft := newTestPipeline(t, true)
	bot := createBotForTest(t, st, llmSrv.URL+"/v1")

	cb := &tgbotapi.CallbackQuery{
		ID:      "cb1",
		Data:    "nonexistent",
		Message: &tgbotapi.Message{MessageID: 7, Chat: &tgbotapi.Chat{ID: 1}},
	}
	pipe.HandleCallback(context.Background(), ft.bot(t), bot.ID, cb)

	if ft.callbackAnswers != 1 {
		t.Errorf("expected the callback query still answered once, got %d", ft.callbackAnswers)
	}
	if len(ft.sentTexts) != 0 {
		t.Errorf("expected no command execution for unmatched callback data, got %+v", ft.sentTexts)
	}
}
