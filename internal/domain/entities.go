package domain

import "time"

// Profile описывает профиль пользователя Heat Sync.
type Profile struct {
	ID               string
	MailboxAccountID string
	Timezone         string
	DigestTime       string
	Entitled         bool
}

// HasMailbox сообщает, привязан ли к профилю почтовый аккаунт.
func (p Profile) HasMailbox() bool {
	return p.MailboxAccountID != ""
}

// NormalizedMessage представляет непрочитанное письмо в нормализованном виде.
type NormalizedMessage struct {
	ID       string `json:"id"`
	Subject  string `json:"subject"`
	Snippet  string `json:"snippet"`
	BodyText string `json:"body_text"`
}

// CategoryName — фиксированная категория дайджеста.
type CategoryName string

const (
	// CategoryUrgent — срочные письма, требующие немедленного внимания.
	CategoryUrgent CategoryName = "Urgent"
	// CategoryActionNeeded — письма, требующие ответа или действия.
	CategoryActionNeeded CategoryName = "Action Needed"
	// CategoryNewsletter — рассылки и маркетинг.
	CategoryNewsletter CategoryName = "Newsletter"
	// CategoryPersonal — личные письма.
	CategoryPersonal CategoryName = "Personal"
)

// CategoryNames перечисляет допустимые категории в порядке вывода.
var CategoryNames = []CategoryName{CategoryUrgent, CategoryActionNeeded, CategoryNewsletter, CategoryPersonal}

// KnownCategory проверяет, входит ли имя в фиксированный набор категорий.
func KnownCategory(name CategoryName) bool {
	for _, known := range CategoryNames {
		if name == known {
			return true
		}
	}
	return false
}

// DigestItem описывает одно письмо внутри категории дайджеста.
type DigestItem struct {
	MessageID string `json:"message_id"`
	Subject   string `json:"subject"`
	Snippet   string `json:"snippet"`
	HeatScore int    `json:"heat_score"`
}

// DigestCategory группирует письма одной категории.
type DigestCategory struct {
	Name  CategoryName `json:"name"`
	Items []DigestItem `json:"emails"`
}

// Digest — структурированная сводка пачки непрочитанных писем.
type Digest struct {
	Title            string           `json:"summary_title"`
	OverallSentiment string           `json:"overall_sentiment"`
	Categories       []DigestCategory `json:"categories"`
	SuggestedActions []string         `json:"suggested_actions"`
}

// MessageIDs возвращает идентификаторы писем из всех категорий дайджеста.
func (d Digest) MessageIDs() []string {
	var ids []string
	for _, cat := range d.Categories {
		for _, item := range cat.Items {
			ids = append(ids, item.MessageID)
		}
	}
	return ids
}

// StoredSummary — сохранённый дайджест пользователя.
type StoredSummary struct {
	ID        string
	UserID    string
	Content   Digest
	HeatVibe  string
	CreatedAt time.Time
}
