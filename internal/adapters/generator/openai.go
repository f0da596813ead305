package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"heatsync/internal/domain"
	openai "heatsync/internal/infra/openai"
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI реализует SummaryGenerator через OpenAI Chat Completions.
type OpenAI struct {
	client  chatClient
	model   string
	timeout time.Duration
}

var _ domain.SummaryGenerator = (*OpenAI)(nil)

// NewOpenAI создаёт генератор дайджестов.
func NewOpenAI(client chatClient, model string, timeout time.Duration) *OpenAI {
	if model == "" {
		model = "gpt-5-mini"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAI{client: client, model: model, timeout: timeout}
}

const systemPrompt = `You are the Heat Sync assistant. Produce a concise digest of the user's unread emails strictly matching the output schema.
Categories:
- "Urgent": time-sensitive, critical, or high-impact messages that need immediate attention.
- "Action Needed": requires a response or follow-up, but not as urgent as Urgent.
- "Newsletter": newsletters, marketing, or low-priority broadcasts.
- "Personal": personal updates or non-urgent human messages.
Rules:
- Be concise and professional. Only use the provided emails.
- Each email must appear under exactly one category, with its original "message_id" echoed verbatim.
- Each entry must include "message_id", "subject", "snippet" and an integer "heat_score" from 1 to 10.
- Return only JSON: {"summary_title": string, "overall_sentiment": string, "categories": [{"name": string, "emails": [{"message_id": string, "subject": string, "snippet": string, "heat_score": int}]}], "suggested_actions": [string]}.`

// Summarize строит дайджест по письмам и проверяет его на соответствие
// строгому контракту. Любое нарушение контракта — ошибка генерации.
func (g *OpenAI) Summarize(ctx context.Context, messages []domain.NormalizedMessage) (domain.Digest, error) {
	if len(messages) == 0 {
		return domain.Digest{}, errors.New("генерация без писем невозможна")
	}

	payload, err := json.Marshal(map[string]any{"emails": messages})
	if err != nil {
		return domain.Digest{}, fmt.Errorf("сериализация писем: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: systemPrompt},
			{Role: openai.RoleUser, Content: string(payload)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ResponseFormatTypeJSONObject},
	}

	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return domain.Digest{}, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return domain.Digest{}, errors.New("openai completion: пустой ответ")
	}

	var digest domain.Digest
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &digest); err != nil {
		return domain.Digest{}, fmt.Errorf("распаковка ответа LLM: %w", err)
	}
	if err := ValidateDigest(digest, messages); err != nil {
		return domain.Digest{}, fmt.Errorf("контракт дайджеста нарушен: %w", err)
	}
	return digest, nil
}

// ValidateDigest проверяет строгий контракт: категории из фиксированного
// набора, heat score в [1, 10], и каждое входное письмо ровно в одной
// категории — без потерь, дублей и выдуманных писем.
func ValidateDigest(digest domain.Digest, messages []domain.NormalizedMessage) error {
	if strings.TrimSpace(digest.Title) == "" {
		return errors.New("пустой заголовок")
	}
	if strings.TrimSpace(digest.OverallSentiment) == "" {
		return errors.New("пустой overall_sentiment")
	}

	expected := make(map[string]bool, len(messages))
	for _, msg := range messages {
		expected[msg.ID] = false
	}

	for _, cat := range digest.Categories {
		if !domain.KnownCategory(cat.Name) {
			return fmt.Errorf("неизвестная категория %q", cat.Name)
		}
		for _, item := range cat.Items {
			if item.HeatScore < 1 || item.HeatScore > 10 {
				return fmt.Errorf("heat score %d вне диапазона [1, 10]", item.HeatScore)
			}
			seen, ok := expected[item.MessageID]
			if !ok {
				return fmt.Errorf("письмо %q не входит в исходный набор", item.MessageID)
			}
			if seen {
				return fmt.Errorf("письмо %q встречается более одного раза", item.MessageID)
			}
			expected[item.MessageID] = true
		}
	}

	for id, seen := range expected {
		if !seen {
			return fmt.Errorf("письмо %q отсутствует в дайджесте", id)
		}
	}
	return nil
}
