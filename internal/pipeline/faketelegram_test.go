package pipeline

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// fakeTelegram is a minimal stand-in Bot API server, grounded in the same
// httptest.Server-plus-custom-endpoint pattern internal/llm/http_test.go
// uses for provider mocking, and shared in shape with the copies in
// internal/commands and internal/supervisor's own test files.
type fakeTelegram struct {
	srv             *httptest.Server
	sentTexts       []string
	callbackAnswers int
}

func newFakeTelegram(t *testing.T) *fakeTelegram {
	t.Helper()
	f := &fakeTelegram{}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeTelegram) handle(w http.ResponseWriter, r *http.Request) {
	method := path.Base(r.URL.Path)
	w.Header().Set("Content-Type", "application/json")

	switch method {
	case "getMe":
		writeOK(w, tgbotapi.User{ID: 1, IsBot: true, FirstName: "test", UserName: "test_bot"})
	case "sendMessage":
		_ = r.ParseForm()
		f.sentTexts = append(f.sentTexts, r.FormValue("text"))
		writeOK(w, tgbotapi.Message{MessageID: 1, Chat: &tgbotapi.Chat{ID: 1}, Text: r.FormValue("text")})
	case "editMessageText":
		_ = r.ParseForm()
		f.sentTexts = append(f.sentTexts, r.FormValue("text"))
		writeOK(w, tgbotapi.Message{MessageID: 1, Chat: &tgbotapi.Chat{ID: 1}, Text: r.FormValue("text")})
	case "answerCallbackQuery":
		f.callbackAnswers++
		writeOK(w, true)
	default:
		writeErr(w, 404, "unhandled test method "+method)
	}
}

func writeOK(w http.ResponseWriter, result any) {
	body, _ := json.Marshal(result)
	json.NewEncoder(w).Encode(tgbotapi.APIResponse{Ok: true, Result: body})
}

func writeErr(w http.ResponseWriter, code int, description string) {
	json.NewEncoder(w).Encode(tgbotapi.APIResponse{Ok: false, ErrorCode: code, Description: description})
}

func (f *fakeTelegram) bot(t *testing.T) *tgbotapi.BotAPI {
	t.Helper()
	endpoint := f.srv.URL + "/bot%s/%s"
	b, err := tgbotapi.NewBotAPIWithClient("test-token", endpoint, f.srv.Client())
	if err != nil {
		t.Fatalf("NewBotAPIWithClient: %v", err)
	}
	return b
}
