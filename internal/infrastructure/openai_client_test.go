package infrastructure

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"salesbot/internal/config"
)

var onePixelPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89,
}

func testVocabulary(t *testing.T) *config.Vocabulary {
	t.Helper()
	v, err := config.DefaultVocabulary()
	require.NoError(t, err)
	return v
}

func completionBody(content string) string {
	raw, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"model":   "gpt-4o-mini",
		"choices": []any{map[string]any{"index": 0, "message": map[string]any{"role": "assistant", "content": content}}},
	})
	return string(raw)
}

// chatRequest is the wire form of a chat completion request as the provider
// sees it. The response format schema stays raw so union types such as
// ["string","null"] survive decoding.
type chatRequest struct {
	Model               string                         `json:"model"`
	Messages            []openai.ChatCompletionMessage `json:"messages"`
	MaxTokens           int                            `json:"max_tokens"`
	MaxCompletionTokens int                            `json:"max_completion_tokens"`
	Stop                []string                       `json:"stop"`
	ReasoningEffort     string                         `json:"reasoning_effort"`
	ResponseFormat      *struct {
		Type       string `json:"type"`
		JSONSchema *struct {
			Name   string          `json:"name"`
			Strict bool            `json:"strict"`
			Schema json.RawMessage `json:"schema"`
		} `json:"json_schema"`
	} `json:"response_format"`
}

// openAIServer answers /v1/chat/completions with handle and records requests.
func openAIServer(t *testing.T, handle func(req chatRequest) (int, string)) (*httptest.Server, *[]chatRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []chatRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode chat request: %v", err)
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		mu.Lock()
		seen = append(seen, req)
		mu.Unlock()

		status, body := handle(req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func newTestOpenAI(t *testing.T, srv *httptest.Server, delays *[]time.Duration) *OpenAIClient {
	t.Helper()
	cfg := config.OpenAIConfig{
		APIKey:              "sk-test",
		BaseURL:             srv.URL + "/v1",
		Model:               "gpt-4o-mini",
		VisionModel:         "gpt-5-nano",
		VisionFallbackModel: "gpt-4o-mini",
		ImageDetail:         "low",
	}
	return NewOpenAIClient(cfg, testVocabulary(t), NopLogger(), nil, WithCompletionRetry(3, time.Second, noSleep(delays)))
}

func TestComplete_ReturnsAnswer(t *testing.T) {
	srv, seen := openAIServer(t, func(chatRequest) (int, string) {
		return http.StatusOK, completionBody("  Tenemos martillos disponibles.  ")
	})
	var delays []time.Duration
	c := newTestOpenAI(t, srv, &delays)

	out := c.Complete(context.Background(), "¿venden martillos?")
	require.Equal(t, "Tenemos martillos disponibles.", out)

	req := (*seen)[0]
	require.Equal(t, "gpt-4o-mini", req.Model)
	require.Equal(t, 160, req.MaxTokens)
	require.Equal(t, []string{"\n\n"}, req.Stop)
	require.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	require.Equal(t, "¿venden martillos?", req.Messages[1].Content)
}

func TestComplete_TruncatesToTail(t *testing.T) {
	srv, seen := openAIServer(t, func(chatRequest) (int, string) {
		return http.StatusOK, completionBody("ok")
	})
	var delays []time.Duration
	c := newTestOpenAI(t, srv, &delays)

	long := strings.Repeat("a", MaxPromptChars) + "fin"
	c.Complete(context.Background(), long)

	sent := (*seen)[0].Messages[1].Content
	require.Len(t, []rune(sent), MaxPromptChars)
	require.True(t, strings.HasSuffix(sent, "fin"))
}

func TestComplete_EmptyTextSkipsProvider(t *testing.T) {
	srv, seen := openAIServer(t, func(chatRequest) (int, string) {
		return http.StatusOK, completionBody("x")
	})
	var delays []time.Duration
	c := newTestOpenAI(t, srv, &delays)

	require.Equal(t, "", c.Complete(context.Background(), "   "))
	require.Empty(t, *seen)
}

func TestComplete_ServerErrorsExhaustRetries(t *testing.T) {
	var hits atomic.Int32
	srv, _ := openAIServer(t, func(chatRequest) (int, string) {
		hits.Add(1)
		return http.StatusInternalServerError, `{"error":{"message":"boom","type":"server_error"}}`
	})
	var delays []time.Duration
	c := newTestOpenAI(t, srv, &delays)

	require.Equal(t, "", c.Complete(context.Background(), "hola"))
	require.Equal(t, int32(3), hits.Load())
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
}

func TestComplete_BadRequestIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv, _ := openAIServer(t, func(chatRequest) (int, string) {
		hits.Add(1)
		return http.StatusBadRequest, `{"error":{"message":"bad","type":"invalid_request_error"}}`
	})
	var delays []time.Duration
	c := newTestOpenAI(t, srv, &delays)

	require.Equal(t, "", c.Complete(context.Background(), "hola"))
	require.Equal(t, int32(1), hits.Load())
	require.Empty(t, delays)
}

func TestClassify_UsesStrictSchema(t *testing.T) {
	srv, seen := openAIServer(t, func(chatRequest) (int, string) {
		return http.StatusOK, completionBody(`{"category":"Martillo","description":"martillo de uña","confidence":0.92}`)
	})
	var delays []time.Duration
	c := newTestOpenAI(t, srv, &delays)

	cls := c.Classify(context.Background(), "https://example.com/public/a.jpg")
	require.Equal(t, "martillo", cls.Category)
	require.Equal(t, "martillo de uña", cls.Description)
	require.InDelta(t, 0.92, cls.Confidence, 1e-9)

	require.Len(t, *seen, 1)
	require.Empty(t, delays)

	req := (*seen)[0]
	require.Equal(t, "gpt-5-nano", req.Model)
	require.Equal(t, "minimal", req.ReasoningEffort)
	require.Equal(t, visionMaxTokens, req.MaxCompletionTokens)
	require.Equal(t, "https://example.com/public/a.jpg", req.Messages[1].MultiContent[1].ImageURL.URL)
	require.Equal(t, "low", string(req.Messages[1].MultiContent[1].ImageURL.Detail))

	require.NotNil(t, req.ResponseFormat)
	require.Equal(t, string(openai.ChatCompletionResponseFormatTypeJSONSchema), req.ResponseFormat.Type)
	require.NotNil(t, req.ResponseFormat.JSONSchema)
	require.True(t, req.ResponseFormat.JSONSchema.Strict)

	var schema struct {
		Properties struct {
			Category struct {
				Type []string `json:"type"`
				Enum []any    `json:"enum"`
			} `json:"category"`
		} `json:"properties"`
		Required             []string `json:"required"`
		AdditionalProperties bool     `json:"additionalProperties"`
	}
	require.NoError(t, json.Unmarshal(req.ResponseFormat.JSONSchema.Schema, &schema))
	require.Equal(t, []string{"string", "null"}, schema.Properties.Category.Type)
	require.Contains(t, schema.Properties.Category.Enum, "martillo")
	require.Contains(t, schema.Properties.Category.Enum, nil)
	require.ElementsMatch(t, []string{"category", "description", "confidence"}, schema.Required)
	require.False(t, schema.AdditionalProperties)
}

func TestClassify_FallsBackToSecondModel(t *testing.T) {
	srv, seen := openAIServer(t, func(req chatRequest) (int, string) {
		if req.Model == "gpt-5-nano" {
			return http.StatusBadRequest, `{"error":{"message":"unsupported parameter","type":"invalid_request_error"}}`
		}
		return http.StatusOK, completionBody(`{"category":"taladro","description":"taladro","confidence":0.5}`)
	})
	var delays []time.Duration
	c := newTestOpenAI(t, srv, &delays)

	cls := c.Classify(context.Background(), "https://example.com/a.jpg")
	require.Equal(t, "taladro", cls.Category)
	require.Len(t, *seen, 2)
	require.Equal(t, "gpt-5-nano", (*seen)[0].Model)
	require.Equal(t, "gpt-4o-mini", (*seen)[1].Model)
	require.Empty(t, (*seen)[1].ReasoningEffort)
	require.Equal(t, (*seen)[0].ResponseFormat.JSONSchema.Schema, (*seen)[1].ResponseFormat.JSONSchema.Schema)
	require.Empty(t, delays)
}

func TestClassify_GarbageYieldsZeroValue(t *testing.T) {
	srv, seen := openAIServer(t, func(chatRequest) (int, string) {
		return http.StatusOK, completionBody("no sé qué es")
	})
	var delays []time.Duration
	c := newTestOpenAI(t, srv, &delays)

	cls := c.Classify(context.Background(), "https://example.com/a.jpg")
	require.False(t, cls.Recognized())
	require.Zero(t, cls.Confidence)
	require.Empty(t, delays)
	require.Len(t, *seen, 2)
}

func TestImageReference(t *testing.T) {
	for _, ref := range []string{"https://x/a.jpg", "HTTP://x/a.jpg", "data:image/png;base64,AAAA"} {
		got, err := ImageReference(ref)
		require.NoError(t, err)
		require.Equal(t, ref, got)
	}

	path := filepath.Join(t.TempDir(), "foto")
	require.NoError(t, os.WriteFile(path, onePixelPNG, 0o644))
	got, err := ImageReference(path)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(got, "data:image/png;base64,"))

	_, err = ImageReference(filepath.Join(t.TempDir(), "missing.jpg"))
	require.Error(t, err)
}

func TestParseClassification(t *testing.T) {
	vocab := testVocabulary(t)
	tests := []struct {
		name       string
		raw        string
		category   string
		confidence float64
		wantErr    bool
	}{
		{name: "plain", raw: `{"category":"martillo","description":"x","confidence":0.8}`, category: "martillo", confidence: 0.8},
		{name: "fenced", raw: "```json\n{\"category\":\"Taladro\",\"confidence\":1}\n```", category: "taladro", confidence: 1},
		{name: "alias", raw: `{"category":"Tubería","confidence":0.4}`, category: "tuberia", confidence: 0.4},
		{name: "unknown category", raw: `{"category":"bicicleta","confidence":0.9}`, confidence: 0.9},
		{name: "null category", raw: `{"category":null,"confidence":0.1}`, confidence: 0.1},
		{name: "string confidence", raw: `{"category":"martillo","confidence":"0.75"}`, category: "martillo", confidence: 0.75},
		{name: "confidence above one", raw: `{"confidence":7}`, confidence: 1},
		{name: "negative confidence", raw: `{"confidence":-2}`, confidence: 0},
		{name: "junk confidence", raw: `{"confidence":"alto"}`, confidence: 0},
		{name: "not json", raw: "martillo", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cls, err := ParseClassification(tt.raw, vocab)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.category, cls.Category)
			require.InDelta(t, tt.confidence, cls.Confidence, 1e-9)
		})
	}
}

func TestParseClassification_CapsDescription(t *testing.T) {
	long := strings.Repeat("ñ", 250)
	cls, err := ParseClassification(`{"description":"`+long+`"}`, testVocabulary(t))
	require.NoError(t, err)
	require.Len(t, []rune(cls.Description), 200)
}

func TestTrimHelpers(t *testing.T) {
	require.Equal(t, "cde", TrimTail("abcde", 3))
	require.Equal(t, "abc", TrimHead("abcde", 3))
	require.Equal(t, "ab", TrimTail("ab", 3))
}
