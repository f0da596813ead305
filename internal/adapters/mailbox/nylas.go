package mailbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"heatsync/internal/domain"
	"heatsync/internal/infra/metrics"
)

const defaultBaseURL = "https://api.us.nylas.com/v3"

const (
	minPageSize     = 1
	maxPageSize     = 50
	defaultPageSize = 20
)

// Nylas реализует domain.MailboxGateway через REST API Nylas v3.
type Nylas struct {
	http    *http.Client
	baseURL string
	apiKey  string
	limiter *rate.Limiter
}

var _ domain.MailboxGateway = (*Nylas)(nil)

// NewNylas создаёт шлюз к почтовому провайдеру. rps ограничивает частоту
// исходящих запросов; burst равен rps, запаса сверх лимита нет.
func NewNylas(apiKey, baseURL string, timeout time.Duration, rps int) *Nylas {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if rps <= 0 {
		rps = 5
	}
	return &Nylas{
		http:    &http.Client{Timeout: timeout},
		baseURL: baseURL,
		apiKey:  apiKey,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

type nylasMessage struct {
	ID        string `json:"id"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	BodyPlain string `json:"body_plain"`
	Snippet   string `json:"snippet"`
}

type nylasFolder struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Attributes []string `json:"attributes"`
}

type nylasList[T any] struct {
	Data []T `json:"data"`
}

// ListUnread возвращает непрочитанные письма папки «входящие»,
// нормализованные для генерации дайджеста.
func (n *Nylas) ListUnread(ctx context.Context, accountID string, limit int) ([]domain.NormalizedMessage, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, errors.New("nylas: пустой идентификатор аккаунта")
	}
	limit = ClampLimit(limit)

	inboxID, err := n.inboxFolderID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("unread", "true")
	if inboxID != "" {
		params.Set("in", inboxID)
	}

	var list nylasList[nylasMessage]
	if err := n.do(ctx, http.MethodGet, fmt.Sprintf("/grants/%s/messages?%s", url.PathEscape(accountID), params.Encode()), "messages_list", nil, &list); err != nil {
		return nil, err
	}

	messages := make([]domain.NormalizedMessage, 0, len(list.Data))
	for _, msg := range list.Data {
		if msg.ID == "" {
			return nil, errors.New("nylas: сообщение без идентификатора в ответе")
		}
		messages = append(messages, Normalize(msg.ID, msg.Subject, msg.Snippet, msg.BodyPlain, msg.Body))
	}
	return messages, nil
}

// MarkRead помечает письма прочитанными. Вызывается только после того,
// как дайджест по этим письмам надёжно сохранён.
func (n *Nylas) MarkRead(ctx context.Context, accountID string, messageIDs []string) error {
	if strings.TrimSpace(accountID) == "" {
		return errors.New("nylas: пустой идентификатор аккаунта")
	}
	body := map[string]any{"unread": false}
	for _, id := range messageIDs {
		path := fmt.Sprintf("/grants/%s/messages/%s", url.PathEscape(accountID), url.PathEscape(id))
		if err := n.do(ctx, http.MethodPut, path, "messages_update", body, nil); err != nil {
			return fmt.Errorf("пометка письма %s: %w", id, err)
		}
	}
	return nil
}

// inboxFolderID ищет папку «входящие»: по имени или атрибуту \Inbox.
func (n *Nylas) inboxFolderID(ctx context.Context, accountID string) (string, error) {
	var list nylasList[nylasFolder]
	if err := n.do(ctx, http.MethodGet, fmt.Sprintf("/grants/%s/folders", url.PathEscape(accountID)), "folders_list", nil, &list); err != nil {
		return "", err
	}
	for _, folder := range list.Data {
		if strings.EqualFold(folder.Name, "inbox") {
			return folder.ID, nil
		}
		for _, attr := range folder.Attributes {
			if strings.EqualFold(attr, `\inbox`) {
				return folder.ID, nil
			}
		}
	}
	return "", nil
}

func (n *Nylas) do(ctx context.Context, method, path, operation string, body any, out any) error {
	if n.apiKey == "" {
		return errors.New("nylas: api key is empty")
	}
	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("nylas: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, n.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("nylas: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+n.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := n.http.Do(req)
	metrics.ObserveNetworkRequest("nylas", operation, "nylas", start, err)
	if err != nil {
		return fmt.Errorf("nylas: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("nylas: %s: status %d: %s", operation, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("nylas: decode response: %w", err)
	}
	return nil
}
