// Package llm shapes requests and parses responses for whichever LLM
// provider family a bot's api_url belongs to, in both blocking and
// streaming modes. Grounded in the retrieved mister_morph
// providers/openai.Client shape: one *http.Client per adapter, a small
// request/response struct pair per family, status-code and empty-body
// checks before returning.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Role mirrors the conventional chat-message roles shared by every
// provider family this adapter speaks.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

// ChatConfig is the subset of a Bot row the adapter needs to place a
// call, per spec.md §4.3.
type ChatConfig struct {
	APIURL       string
	APIKey       string
	Model        string
	SystemPrompt string
}

// Family identifies which provider wire format a URL maps to.
type Family int

const (
	FamilyGenericOpenAI Family = iota
	FamilyOpenAI
	FamilyAnthropic
	FamilyAnthropicLike
	FamilyGemini
)

// FamilyFor implements the substring dispatch table of spec.md §4.3, in
// its documented priority order.
func FamilyFor(apiURL string) Family {
	switch {
	case strings.Contains(apiURL, "langdock.com"):
		return FamilyAnthropicLike
	case strings.Contains(apiURL, "anthropic.com"):
		return FamilyAnthropic
	case strings.Contains(apiURL, "openai.com"):
		return FamilyOpenAI
	case strings.Contains(apiURL, "deepseek.com"):
		return FamilyOpenAI
	case strings.Contains(apiURL, "googleapis.com"), strings.Contains(apiURL, "generativelanguage"):
		return FamilyGemini
	default:
		return FamilyGenericOpenAI
	}
}

// SupportsStreaming reports whether Family is one of the OpenAI-shaped
// families spec.md §4.3 allows real SSE streaming for.
func (f Family) SupportsStreaming() bool {
	return f == FamilyOpenAI || f == FamilyGenericOpenAI
}

// ComposeSystemPrompt implements spec.md §4.3's system-prompt
// composition rule. databaseType is "" when no database is bound.
func ComposeSystemPrompt(systemPrompt, databaseType, databaseContent string) string {
	if databaseContent == "" {
		return systemPrompt
	}
	switch databaseType {
	case "text":
		return systemPrompt + "\n\nБаза знаний:\n" + databaseContent
	case "json":
		return systemPrompt + "\n\nДанные из базы (JSON):\n" + databaseContent
	default:
		return systemPrompt
	}
}

// Chunk is one increment of a streaming reply.
type Chunk struct {
	Text string
	Done bool
	Err  error
}

// CallObserver is notified after every Complete/Stream attempt, letting
// the caller increment RequestStats.apiCalls and persist an AIRequestLog
// row without the llm package depending on those packages directly.
// botID and chatID come from the call site via WithCallMeta and are 0
// when the caller never attached any (e.g. the support-chat widget).
type CallObserver func(ctx context.Context, botID uint, chatID int64, family Family, model string, duration time.Duration, success bool)

type callMetaKey struct{}

type callMeta struct {
	botID  uint
	chatID int64
}

// WithCallMeta attaches the bot/chat a Complete or Stream call is made on
// behalf of, so the CallObserver can attribute an AIRequestLog row to it.
func WithCallMeta(ctx context.Context, botID uint, chatID int64) context.Context {
	return context.WithValue(ctx, callMetaKey{}, callMeta{botID: botID, chatID: chatID})
}

func metaFrom(ctx context.Context) (uint, int64) {
	if m, ok := ctx.Value(callMetaKey{}).(callMeta); ok {
		return m.botID, m.chatID
	}
	return 0, 0
}

// Adapter places blocking and streaming chat calls against whichever
// provider family a ChatConfig's APIURL resolves to.
type Adapter struct {
	http     *http.Client
	observer CallObserver
}

func New(observer CallObserver) *Adapter {
	if observer == nil {
		observer = func(context.Context, uint, int64, Family, string, time.Duration, bool) {}
	}
	return &Adapter{
		http:     &http.Client{Timeout: 30 * time.Second},
		observer: observer,
	}
}

var (
	errEmptyResponse = errors.New("Получен пустой ответ от AI сервиса.")
)

// Complete performs one blocking call and returns the final text.
func (a *Adapter) Complete(ctx context.Context, cfg ChatConfig, messages []Message) (string, error) {
	family := FamilyFor(cfg.APIURL)
	botID, chatID := metaFrom(ctx)
	start := time.Now()
	success := false
	defer func() { a.observer(ctx, botID, chatID, family, cfg.Model, time.Since(start), success) }()

	req, err := a.buildRequest(ctx, family, cfg, messages, false)
	if err != nil {
		return "", err
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("Не удалось подключиться к AI сервису: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("Не удалось подключиться к AI сервису: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("Ошибка AI сервиса: код %d", resp.StatusCode)
	}

	text, err := extractText(family, body)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", errEmptyResponse
	}
	success = true
	return text, nil
}

// Stream performs a streaming call, sending incremental Chunks to out.
// out is always closed by Stream before returning. Non-streaming
// families fall back to one blocking call emitted as a single chunk
// followed by a Done chunk, per spec.md §4.3.
func (a *Adapter) Stream(ctx context.Context, cfg ChatConfig, messages []Message, out chan<- Chunk) {
	defer close(out)

	family := FamilyFor(cfg.APIURL)
	if !family.SupportsStreaming() {
		text, err := a.Complete(ctx, cfg, messages)
		if err != nil {
			out <- Chunk{Err: err}
			return
		}
		out <- Chunk{Text: text}
		out <- Chunk{Done: true}
		return
	}

	botID, chatID := metaFrom(ctx)
	start := time.Now()
	success := false
	defer func() { a.observer(ctx, botID, chatID, family, cfg.Model, time.Since(start), success) }()

	req, err := a.buildRequest(ctx, family, cfg, messages, true)
	if err != nil {
		out <- Chunk{Err: err}
		return
	}

	resp, err := a.http.Do(req)
	if err != nil {
		out <- Chunk{Err: fmt.Errorf("Не удалось подключиться к AI сервису: %v", err)}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		out <- Chunk{Err: fmt.Errorf("Ошибка AI сервиса: код %d", resp.StatusCode)}
		return
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			success = true
			out <- Chunk{Done: true}
			return
		}
		if payload == "" {
			continue
		}
		var delta openaiStreamChunk
		if err := json.Unmarshal([]byte(payload), &delta); err != nil {
			continue
		}
		if len(delta.Choices) > 0 && delta.Choices[0].Delta.Content != "" {
			out <- Chunk{Text: delta.Choices[0].Delta.Content}
		}
	}
	success = true
	out <- Chunk{Done: true}
}

func (a *Adapter) buildRequest(ctx context.Context, family Family, cfg ChatConfig, messages []Message, stream bool) (*http.Request, error) {
	url := requestURL(family, cfg)
	body, err := requestBody(family, cfg, messages, stream)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	switch family {
	case FamilyGemini:
		// key travels in the query string; no Authorization header.
	case FamilyAnthropic:
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
		req.Header.Set("anthropic-version", "2023-06-01")
	default:
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	return req, nil
}

func requestURL(family Family, cfg ChatConfig) string {
	switch family {
	case FamilyOpenAI, FamilyGenericOpenAI:
		url := cfg.APIURL
		if !strings.HasSuffix(url, "/chat/completions") {
			url = strings.TrimRight(url, "/") + "/chat/completions"
		}
		return url
	case FamilyGemini:
		sep := "?"
		if strings.Contains(cfg.APIURL, "?") {
			sep = "&"
		}
		return cfg.APIURL + sep + "key=" + cfg.APIKey
	default: // Anthropic, AnthropicLike
		return cfg.APIURL
	}
}

const (
	defaultMaxTokens  = 1024
	defaultTemperature = 0.7
)

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
	Stream      bool            `json:"stream"`
}

type anthropicRequest struct {
	Model       string          `json:"model"`
	System      string          `json:"system,omitempty"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
	Stream      bool            `json:"stream"`
}

type geminiRequest struct {
	Contents          []geminiContent          `json:"contents"`
	GenerationConfig  geminiGenerationConfig   `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens"`
	Temperature     float64 `json:"temperature"`
}

func requestBody(family Family, cfg ChatConfig, messages []Message, stream bool) ([]byte, error) {
	switch family {
	case FamilyAnthropic, FamilyAnthropicLike:
		out := anthropicRequest{
			Model:       cfg.Model,
			System:      cfg.SystemPrompt,
			MaxTokens:   defaultMaxTokens,
			Temperature: defaultTemperature,
			Stream:      stream,
		}
		for _, m := range messages {
			if m.Role == RoleSystem {
				continue
			}
			out.Messages = append(out.Messages, openaiMessage{Role: string(m.Role), Content: m.Content})
		}
		return json.Marshal(out)

	case FamilyGemini:
		var b strings.Builder
		if cfg.SystemPrompt != "" {
			b.WriteString(cfg.SystemPrompt)
			b.WriteString("\n\n")
		}
		var lastUser string
		for _, m := range messages {
			switch m.Role {
			case RoleSystem:
				continue
			case RoleUser:
				b.WriteString("User: " + m.Content + "\n")
				lastUser = m.Content
			case RoleAssistant:
				b.WriteString("Assistant: " + m.Content + "\n")
			}
		}
		_ = lastUser
		out := geminiRequest{
			Contents: []geminiContent{{
				Role:  "user",
				Parts: []geminiPart{{Text: b.String()}},
			}},
			GenerationConfig: geminiGenerationConfig{
				MaxOutputTokens: defaultMaxTokens,
				Temperature:     defaultTemperature,
			},
		}
		return json.Marshal(out)

	default: // OpenAI, GenericOpenAI
		out := openaiRequest{
			Model:       cfg.Model,
			MaxTokens:   defaultMaxTokens,
			Temperature: defaultTemperature,
			Stream:      stream,
		}
		if cfg.SystemPrompt != "" {
			out.Messages = append(out.Messages, openaiMessage{Role: string(RoleSystem), Content: cfg.SystemPrompt})
		}
		for _, m := range messages {
			out.Messages = append(out.Messages, openaiMessage{Role: string(m.Role), Content: m.Content})
		}
		return json.Marshal(out)
	}
}

type openaiStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Message *struct {
		Content string `json:"content"`
	} `json:"message"`
}

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

type genericResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	// Content is left as RawMessage because providers disagree on its
	// shape: some send content[0].text, others a bare content string.
	Content  json.RawMessage `json:"content"`
	Response string          `json:"response"`
	Text     string          `json:"text"`
}

// extractGenericContent tries the "content" field as an
// [{"text":"..."}] array first, then as a plain string.
func extractGenericContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var arr []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) > 0 {
		return arr[0].Text
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func extractText(family Family, body []byte) (string, error) {
	switch family {
	case FamilyAnthropic, FamilyAnthropicLike:
		var r anthropicResponse
		if err := json.Unmarshal(body, &r); err != nil {
			return "", errEmptyResponse
		}
		if len(r.Content) > 0 {
			return r.Content[0].Text, nil
		}
		if r.Message != nil {
			return r.Message.Content, nil
		}
		return "", nil

	case FamilyOpenAI:
		var r openaiResponse
		if err := json.Unmarshal(body, &r); err != nil {
			return "", errEmptyResponse
		}
		if len(r.Choices) > 0 {
			return r.Choices[0].Message.Content, nil
		}
		return "", nil

	case FamilyGemini:
		var r geminiResponse
		if err := json.Unmarshal(body, &r); err != nil {
			return "", errEmptyResponse
		}
		if len(r.Candidates) > 0 && len(r.Candidates[0].Content.Parts) > 0 {
			return r.Candidates[0].Content.Parts[0].Text, nil
		}
		return "", nil

	default: // GenericOpenAI: try several shapes in order
		var r genericResponse
		// A field-type mismatch (e.g. content sent as a bare string against
		// a differently-typed sibling) still leaves the other fields
		// populated per encoding/json's documented partial-decode behavior,
		// so a non-nil err alone must not discard what did decode.
		unmarshalErr := json.Unmarshal(body, &r)
		if len(r.Choices) > 0 && r.Choices[0].Message.Content != "" {
			return r.Choices[0].Message.Content, nil
		}
		if text := extractGenericContent(r.Content); text != "" {
			return text, nil
		}
		if r.Response != "" {
			return r.Response, nil
		}
		if r.Text != "" {
			return r.Text, nil
		}
		if unmarshalErr != nil {
			return "", errEmptyResponse
		}
		return "", nil
	}
}
