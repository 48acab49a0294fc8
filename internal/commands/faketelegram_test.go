package commands

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// fakeTelegram is a local stand-in for the Bot API, grounded in the same
// httptest.Server-plus-custom-endpoint pattern internal/llm/http_test.go
// uses for provider mocking. editBehavior controls how editMessageText
// responds, exercising sendOrEdit's three-way branch.
type fakeTelegram struct {
	srv          *httptest.Server
	editBehavior string // "", "not-modified", "not-found", "other-error"
	sentTexts    []string
	editAttempts int
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
		f.editAttempts++
		switch f.editBehavior {
		case "not-modified":
			writeErr(w, 400, "Bad Request: message is not modified: specified new message content and reply markup are exactly the same as a current content and reply markup of the message")
		case "not-found":
			writeErr(w, 400, "Bad Request: message to edit not found")
		case "other-error":
			writeErr(w, 400, "Bad Request: something else went wrong")
		default:
			_ = r.ParseForm()
			writeOK(w, tgbotapi.Message{MessageID: 1, Chat: &tgbotapi.Chat{ID: 1}, Text: r.FormValue("text")})
		}

	case "answerCallbackQuery":
		writeOK(w, true)

	case "deleteWebhook":
		writeOK(w, true)

	case "getUpdates":
		writeOK(w, []tgbotapi.Update{})

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

// bot builds a *tgbotapi.BotAPI pointed at this fake server, the way
// go-telegram-bot-api's own NewBotAPIWithClient is documented to support
// tests: a custom apiEndpoint format string in place of api.telegram.org.
func (f *fakeTelegram) bot(t *testing.T) *tgbotapi.BotAPI {
	t.Helper()
	endpoint := f.srv.URL + "/bot%s/%s"
	b, err := tgbotapi.NewBotAPIWithClient("test-token", endpoint, f.srv.Client())
	if err != nil {
		t.Fatalf("NewBotAPIWithClient: %v", err)
	}
	return b
}
