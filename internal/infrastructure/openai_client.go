package infrastructure

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gabriel-vasile/mimetype"
	"github.com/sashabaranov/go-openai"

	"salesbot/internal/config"
	"salesbot/internal/entities"
	"salesbot/internal/retry"
)

const (
	// MaxPromptChars is the tail of the user text kept for the model.
	MaxPromptChars = 3000

	completionMaxTokens  = 160
	completionTemp       = 0.2
	visionMaxTokens      = 300
	maxDescriptionRunes  = 200
	visionReasoningLevel = "minimal"
)

const salesSystemPrompt = "Eres asistente de ventas de la ferretería Freund. Habla español, claro y breve. " +
	"Solo atiende consultas de FERRETERÍA (herramientas, materiales, precios, stock, cotizaciones). " +
	"Si el usuario pide algo fuera de ese ámbito, redirígelo con 1 oración a nuestro catálogo. " +
	"No inventes precios ni stock; usa solo lo indicado por el usuario o reglas del sistema. " +
	"Responde en 1–2 oraciones máximo."

var errEmptyCompletion = errors.New("openai: empty completion")

type chatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	ListModels(ctx context.Context) (openai.ModelsList, error)
}

type visionModel struct {
	name            string
	reasoningEffort string
}

// OpenAIClient answers sales questions and classifies product photos.
// Neither operation returns provider errors to the caller.
type OpenAIClient struct {
	api          chatAPI
	vocab        *config.Vocabulary
	textModel    string
	vision       []visionModel
	imageDetail  openai.ImageURLDetail
	visionPrompt string
	schema       json.RawMessage
	policy       retry.Policy
	logger       *log.Logger
	metrics      *Metrics
}

type OpenAIOption func(*OpenAIClient)

// WithChatAPI replaces the go-openai client.
func WithChatAPI(api chatAPI) OpenAIOption {
	return func(c *OpenAIClient) { c.api = api }
}

// WithCompletionRetry overrides the attempt budget and backoff sleep.
func WithCompletionRetry(attempts int, base time.Duration, sleep retry.SleepFunc) OpenAIOption {
	return func(c *OpenAIClient) {
		c.policy.Attempts = attempts
		c.policy.BaseDelay = base
		c.policy.Sleep = sleep
	}
}

func NewOpenAIClient(cfg config.OpenAIConfig, vocab *config.Vocabulary, logger *log.Logger, metrics *Metrics, opts ...OpenAIOption) *OpenAIClient {
	c := &OpenAIClient{
		vocab:     vocab,
		textModel: cfg.Model,
		vision: []visionModel{
			{name: cfg.VisionModel, reasoningEffort: visionReasoningLevel},
			{name: cfg.VisionFallbackModel},
		},
		imageDetail:  openai.ImageURLDetail(cfg.ImageDetail),
		visionPrompt: buildVisionPrompt(vocab.AnchorNames()),
		schema:       buildClassificationSchema(vocab.AnchorNames()),
		policy: retry.Policy{
			Attempts:  3,
			BaseDelay: time.Second,
			Retryable: isTransientOpenAIError,
		},
		logger:  logger,
		metrics: metrics,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.api == nil {
		oc := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
		}
		c.api = openai.NewClientWithConfig(oc)
	}
	return c
}

// Complete returns one short sales reply, or "" when the text is empty or
// every attempt failed.
func (c *OpenAIClient) Complete(ctx context.Context, text string) string {
	text = TrimTail(strings.TrimSpace(text), MaxPromptChars)
	if text == "" {
		return ""
	}

	req := openai.ChatCompletionRequest{
		Model: c.textModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: salesSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		MaxTokens:   completionMaxTokens,
		Temperature: completionTemp,
		Stop:        []string{"\n\n"},
	}

	var out string
	err := retry.Do(ctx, c.retryPolicy("complete", c.textModel), func(ctx context.Context, _ int) error {
		resp, err := c.api.CreateChatCompletion(ctx, req)
		if err != nil {
			return err
		}
		out = firstContent(resp)
		return nil
	})
	c.metrics.ObserveLLM("complete", err)
	if err != nil {
		c.logger.Error("chat completion failed", "model", c.textModel, "err", err)
		return ""
	}
	return out
}

// Classify identifies the hardware product in an image. image is either an
// http(s) URL, a data URL or a local file path, which is inlined as base64.
// Failures yield the zero Classification.
func (c *OpenAIClient) Classify(ctx context.Context, image string) entities.Classification {
	ref, err := ImageReference(image)
	if err != nil {
		c.logger.Error("image unreadable", "image", image, "err", err)
		c.metrics.ObserveLLM("classify", err)
		return entities.Classification{}
	}

	for _, m := range c.vision {
		if m.name == "" {
			continue
		}
		cls, err := c.classifyWith(ctx, m, ref)
		c.metrics.ObserveLLM("classify", err)
		if err == nil {
			return cls
		}
		c.logger.Warn("vision model failed", "model", m.name, "err", err)
	}
	return entities.Classification{}
}

func (c *OpenAIClient) classifyWith(ctx context.Context, m visionModel, ref string) (entities.Classification, error) {
	req := openai.ChatCompletionRequest{
		Model: m.name,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: c.visionPrompt},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: "Clasifica el producto de ferretería de esta imagen."},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: ref, Detail: c.imageDetail}},
				},
			},
		},
		MaxCompletionTokens: visionMaxTokens,
		ReasoningEffort:     m.reasoningEffort,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "product_classification",
				Schema: c.schema,
				Strict: true,
			},
		},
	}

	var cls entities.Classification
	err := retry.Do(ctx, c.retryPolicy("classify", m.name), func(ctx context.Context, _ int) error {
		resp, err := c.api.CreateChatCompletion(ctx, req)
		if err != nil {
			return err
		}
		content := firstContent(resp)
		if content == "" {
			return retry.Permanent(errEmptyCompletion)
		}
		parsed, err := ParseClassification(content, c.vocab)
		if err != nil {
			return retry.Permanent(err)
		}
		cls = parsed
		return nil
	})
	return cls, err
}

// Ping lists models to prove the key works.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("openai: list models: %w", err)
	}
	return nil
}

func (c *OpenAIClient) retryPolicy(op, model string) retry.Policy {
	p := c.policy
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.logger.Warn("openai call failed, retrying", "op", op, "model", model, "attempt", attempt, "delay", delay, "err", err)
	}
	return p
}

func firstContent(resp openai.ChatCompletionResponse) string {
	if len(resp.Choices) == 0 {
		return ""
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content)
}

// isTransientOpenAIError retries network failures, throttling, conflicts and
// server errors. Other 4xx answers (bad request, auth, unsupported parameters)
// are final.
func isTransientOpenAIError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 0 || retryableStatus(reqErr.HTTPStatusCode)
	}
	return true
}

func retryableStatus(code int) bool {
	return code == 408 || code == 409 || code == 429 || code >= 500
}

// ImageReference turns a local path into a data URL; URLs pass through.
func ImageReference(image string) (string, error) {
	lower := strings.ToLower(image)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "data:") {
		return image, nil
	}
	data, err := os.ReadFile(image)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	mime := mimetype.Detect(data).String()
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// ParseClassification decodes a model answer into a normalized
// Classification. Only an answer that is not a JSON object is an error;
// missing or odd fields fall back to safe values.
func ParseClassification(raw string, vocab *config.Vocabulary) (entities.Classification, error) {
	var payload map[string]any
	if err := json.Unmarshal([]byte(unwrapJSON(raw)), &payload); err != nil {
		return entities.Classification{}, fmt.Errorf("decode classification: %w", err)
	}

	var cls entities.Classification
	if s, ok := payload["category"].(string); ok {
		if anchor, ok := vocab.Canonical(s); ok {
			cls.Category = anchor
		}
	}
	if s, ok := payload["description"].(string); ok {
		cls.Description = TrimHead(strings.TrimSpace(s), maxDescriptionRunes)
	}
	cls.Confidence = clamp01(number(payload["confidence"]))
	return cls, nil
}

func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err == nil {
			return f
		}
	}
	return 0
}

func clamp01(f float64) float64 {
	switch {
	case math.IsNaN(f), f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// unwrapJSON strips markdown code fences and a leading "json" label, then
// keeps the outermost object.
func unwrapJSON(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	s = strings.TrimSpace(s)
	if len(s) >= 4 && strings.EqualFold(s[:4], "json") {
		s = strings.TrimSpace(s[4:])
	}
	start, end := strings.IndexByte(s, '{'), strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return s
}

// TrimTail keeps the last limit runes of s.
func TrimTail(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[len(r)-limit:])
}

// TrimHead keeps the first limit runes of s.
func TrimHead(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

func buildVisionPrompt(anchors []string) string {
	return "Eres un clasificador de productos de ferretería. Responde solo con JSON " +
		`{"category": string|null, "description": string, "confidence": number}. ` +
		"category debe ser exactamente una de: " + strings.Join(anchors, ", ") +
		"; usa null si la imagen no muestra ninguno de esos productos. " +
		"description: máximo 15 palabras en español. confidence: entre 0 y 1."
}

func buildClassificationSchema(anchors []string) json.RawMessage {
	enum := make([]any, 0, len(anchors)+1)
	for _, a := range anchors {
		enum = append(enum, a)
	}
	enum = append(enum, nil)

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"category":    map[string]any{"type": []string{"string", "null"}, "enum": enum},
			"description": map[string]any{"type": "string"},
			"confidence":  map[string]any{"type": "number"},
		},
		"required":             []string{"category", "description", "confidence"},
		"additionalProperties": false,
	}
	raw, _ := json.Marshal(schema)
	return raw
}
