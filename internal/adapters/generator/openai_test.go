package generator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"heatsync/internal/domain"
	openai "heatsync/internal/infra/openai"
)

type fakeChatClient struct {
	content string
	err     error
}

func (f *fakeChatClient) CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatMessage{Role: "assistant", Content: f.content}}},
	}, nil
}

func inputMessages() []domain.NormalizedMessage {
	return []domain.NormalizedMessage{
		{ID: "m1", Subject: "Дедлайн по отчёту", Snippet: "срочно"},
		{ID: "m2", Subject: "Еженедельная рассылка", Snippet: "новости"},
	}
}

func validDigest() domain.Digest {
	return domain.Digest{
		Title:            "Heat Sync",
		OverallSentiment: "tense",
		Categories: []domain.DigestCategory{
			{Name: domain.CategoryUrgent, Items: []domain.DigestItem{{MessageID: "m1", Subject: "Дедлайн по отчёту", Snippet: "срочно", HeatScore: 10}}},
			{Name: domain.CategoryNewsletter, Items: []domain.DigestItem{{MessageID: "m2", Subject: "Еженедельная рассылка", Snippet: "новости", HeatScore: 2}}},
		},
		SuggestedActions: []string{"Ответить на письмо про отчёт"},
	}
}

func TestSummarizeParsesAndValidates(t *testing.T) {
	payload, err := json.Marshal(validDigest())
	if err != nil {
		t.Fatalf("подготовка ответа: %v", err)
	}
	gen := NewOpenAI(&fakeChatClient{content: string(payload)}, "test-model", 0)

	digest, err := gen.Summarize(context.Background(), inputMessages())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if digest.Title != "Heat Sync" {
		t.Fatalf("ожидали заголовок из ответа, получили %q", digest.Title)
	}
	if len(digest.MessageIDs()) != 2 {
		t.Fatalf("ожидали два письма в дайджесте")
	}
}

func TestSummarizeRejectsBrokenJSON(t *testing.T) {
	gen := NewOpenAI(&fakeChatClient{content: "{не json"}, "test-model", 0)
	if _, err := gen.Summarize(context.Background(), inputMessages()); err == nil {
		t.Fatalf("ожидали ошибку распаковки")
	}
}

func TestSummarizeRejectsContractViolation(t *testing.T) {
	broken := validDigest()
	broken.Categories[0].Items[0].HeatScore = 0
	payload, _ := json.Marshal(broken)
	gen := NewOpenAI(&fakeChatClient{content: string(payload)}, "test-model", 0)

	_, err := gen.Summarize(context.Background(), inputMessages())
	if err == nil || !strings.Contains(err.Error(), "контракт") {
		t.Fatalf("ожидали ошибку контракта, получили %v", err)
	}
}

func TestSummarizePropagatesClientError(t *testing.T) {
	gen := NewOpenAI(&fakeChatClient{err: errors.New("timeout")}, "test-model", 0)
	if _, err := gen.Summarize(context.Background(), inputMessages()); err == nil {
		t.Fatalf("ожидали ошибку клиента")
	}
}

func TestValidateDigest(t *testing.T) {
	msgs := inputMessages()

	cases := []struct {
		name    string
		mutate  func(*domain.Digest)
		wantErr bool
	}{
		{"корректный дайджест", func(*domain.Digest) {}, false},
		{"неизвестная категория", func(d *domain.Digest) { d.Categories[0].Name = "Spam" }, true},
		{"heat score выше предела", func(d *domain.Digest) { d.Categories[0].Items[0].HeatScore = 11 }, true},
		{"heat score ниже предела", func(d *domain.Digest) { d.Categories[1].Items[0].HeatScore = 0 }, true},
		{"выдуманное письмо", func(d *domain.Digest) { d.Categories[0].Items[0].MessageID = "m99" }, true},
		{"потерянное письмо", func(d *domain.Digest) { d.Categories = d.Categories[:1] }, true},
		{"дубликат письма", func(d *domain.Digest) {
			d.Categories[1].Items = append(d.Categories[1].Items, d.Categories[0].Items[0])
		}, true},
		{"пустой заголовок", func(d *domain.Digest) { d.Title = " " }, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			digest := validDigest()
			tc.mutate(&digest)
			err := ValidateDigest(digest, msgs)
			if tc.wantErr && err == nil {
				t.Fatalf("ожидали ошибку валидации")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("не ожидали ошибку: %v", err)
			}
		})
	}
}
