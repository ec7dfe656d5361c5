package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/xaenox/teams-extractor/internal/models"
)

const defaultModel = "gpt-4.1-mini"

const systemPrompt = "You convert Teams deployment confirmations into structured Jira issue payloads. " +
	"Respond with JSON following the required schema."

// OpenAIClassifier produces Jira payloads from resolution bundles via the
// OpenAI chat completions API in JSON mode.
type OpenAIClassifier struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

func NewOpenAIClassifier(apiKey, model string, logger *zap.Logger) *OpenAIClassifier {
	if model == "" {
		model = defaultModel
	}
	return &OpenAIClassifier{
		client: openai.NewClient(apiKey),
		model:  model,
		logger: logger,
	}
}

// NewOpenAIClassifierWithConfig allows pointing the client at a custom
// endpoint, used in tests.
func NewOpenAIClassifierWithConfig(config openai.ClientConfig, model string, logger *zap.Logger) *OpenAIClassifier {
	if model == "" {
		model = defaultModel
	}
	return &OpenAIClassifier{
		client: openai.NewClientWithConfig(config),
		model:  model,
		logger: logger,
	}
}

func (c *OpenAIClassifier) Model() string {
	return c.model
}

func (c *OpenAIClassifier) Classify(ctx context.Context, res models.Resolution) (*models.Payload, error) {
	prompt, err := buildPrompt(res)
	if err != nil {
		return nil, &ClassificationError{Reason: "building prompt", Err: err}
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		c.logger.Error("classification request failed", zap.Error(err))
		return nil, &ClassificationError{Reason: "model request failed", Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &ClassificationError{Reason: "model returned no choices"}
	}

	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	var payload models.Payload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		c.logger.Error("failed to parse model response",
			zap.Error(err),
			zap.String("response", raw))
		return nil, &ClassificationError{Reason: "invalid model response", Err: err}
	}
	return &payload, nil
}

// buildPrompt renders the bundle into the instruction block the model is
// trained against. Issue types map from classification.type:
// localized -> Güncelleştirme, global -> Yaygınlaştırma.
func buildPrompt(res models.Resolution) (string, error) {
	instructions := []string{
		"Aşağıdaki Microsoft Teams mesajından Jira için yapılandırılmış bir kayıt çıkar.",
		"Tür eşleme:",
		"- classification.type == 'localized' -> Issue Type: Güncelleştirme",
		"- classification.type == 'global' -> Issue Type: Yaygınlaştırma",
		"Öncelikle modül adı, sürümler, ortam ve talep eden kişiyi çıkarmaya çalış.",
		"Sabit alanlar:",
		"- description alanına markdown kullan.",
		"- labels alanını küçük harf ve köşeli harf olmayan karakterlerle oluştur.",
		"- Eğer ortam belirtilmemişse 'unknown-environment' etiketi ekle.",
		"- metadata içinde original_message (resolutionText) ve requester bilgilerini sakla.",
	}

	body := map[string]any{
		"resolution":     res.ResolutionText,
		"classification": res.Classification,
		"quoted_request": res.QuotedRequest,
		"author":         res.Author,
		"timestamp":      res.Timestamp,
		"permalink":      res.Permalink,
	}
	encoded, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding bundle: %w", err)
	}
	return strings.Join(instructions, "\n") + "\n\n" + string(encoded), nil
}
