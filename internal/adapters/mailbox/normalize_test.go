package mailbox

import (
	"strings"
	"testing"
)

func TestStripMarkup(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"простой html", "<p>Привет, <b>мир</b>!</p>", "Привет, мир !"},
		{"лишние пробелы", "строка\n\n  с   переносами\t", "строка с переносами"},
		{"без разметки", "обычный текст", "обычный текст"},
		{"пустая строка", "", ""},
		{"атрибуты тегов", `<a href="https://example.com">ссылка</a>`, "ссылка"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StripMarkup(tc.in); got != tc.want {
				t.Fatalf("ожидали %q, получили %q", tc.want, got)
			}
		})
	}
}

func TestNormalizeSubjectFallback(t *testing.T) {
	msg := Normalize("m1", "  ", "сниппет", "текст", "")
	if msg.Subject != "(No subject)" {
		t.Fatalf("ожидали запасную тему, получили %q", msg.Subject)
	}
}

func TestNormalizeSnippetFromBody(t *testing.T) {
	body := strings.Repeat("слово ", 100)
	msg := Normalize("m1", "Тема", "", body, "")
	if msg.Snippet == "" {
		t.Fatalf("сниппет должен строиться из тела письма")
	}
	if len([]rune(msg.Snippet)) > 200 {
		t.Fatalf("сниппет длиннее 200 символов: %d", len([]rune(msg.Snippet)))
	}
}

func TestNormalizePrefersPlainBody(t *testing.T) {
	msg := Normalize("m1", "Тема", "", "чистый текст", "<p>html</p>")
	if msg.BodyText != "чистый текст" {
		t.Fatalf("ожидали body_plain, получили %q", msg.BodyText)
	}
}

func TestNormalizeFallsBackToHTMLBody(t *testing.T) {
	msg := Normalize("m1", "Тема", "", "", "<p>из html</p>")
	if msg.BodyText != "из html" {
		t.Fatalf("ожидали очищенный html, получили %q", msg.BodyText)
	}
}

func TestClampLimit(t *testing.T) {
	cases := []struct {
		in   int
		want int
	}{
		{0, 20},
		{-5, 20},
		{1, 1},
		{15, 15},
		{50, 50},
		{200, 50},
	}
	for _, tc := range cases {
		if got := ClampLimit(tc.in); got != tc.want {
			t.Fatalf("ClampLimit(%d): ожидали %d, получили %d", tc.in, tc.want, got)
		}
	}
}
