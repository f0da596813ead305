package domain

import "errors"

// ErrProfileNotFound возвращается, если профиль не существует.
var ErrProfileNotFound = errors.New("профиль не найден")

// ErrNotConfigured возвращается, если к профилю не привязан почтовый аккаунт.
// Это штатное состояние, а не сбой.
var ErrNotConfigured = errors.New("почтовый аккаунт не привязан")

// ErrNothingToSummarize возвращается при отсутствии непрочитанных писем.
var ErrNothingToSummarize = errors.New("нет непрочитанных писем")
