package mailbox

import (
	"strings"

	"heatsync/internal/domain"
)

const snippetLimit = 200

// ClampLimit приводит размер страницы к допустимому диапазону [1, 50].
// Нулевое или отрицательное значение заменяется значением по умолчанию.
func ClampLimit(limit int) int {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit < minPageSize {
		return minPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

// Normalize собирает нормализованное письмо из сырых полей провайдера.
// Тело очищается от разметки, тема и сниппет получают запасные значения.
func Normalize(id, subject, snippet, bodyPlain, body string) domain.NormalizedMessage {
	raw := bodyPlain
	if raw == "" {
		raw = body
	}
	if raw == "" {
		raw = snippet
	}
	bodyText := StripMarkup(raw)

	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "(No subject)"
	}

	snippet = strings.TrimSpace(snippet)
	if snippet == "" {
		snippet = strings.TrimSpace(clipRunes(bodyText, snippetLimit))
	}

	return domain.NormalizedMessage{ID: id, Subject: subject, Snippet: snippet, BodyText: bodyText}
}

// StripMarkup убирает теги и схлопывает пробелы.
func StripMarkup(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	inTag := false
	for _, r := range value {
		switch {
		case r == '<':
			inTag = true
			b.WriteByte(' ')
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func clipRunes(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
