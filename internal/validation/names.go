// Package validation проверяет имена, из которых строится ключ реплики DataGate.
package validation

import (
	"fmt"
	"regexp"
	"unicode"
	"unicode/utf8"
)

// UsernamePattern определяет допустимый формат username
// Только латинские буквы (a-z, A-Z), цифры (0-9), нижнее подчеркивание (_)
// Длина: 3-32 символа
var UsernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,32}$`)

const (
	// MinUsernameLen минимальная длина username
	MinUsernameLen = 3
	// MaxUsernameLen максимальная длина username
	MaxUsernameLen = 32
	// MaxNameLen максимальная длина имени tenant или коллекции в символах
	MaxNameLen = 128
)

// ValidateUsername проверяет, что username соответствует требованиям
// Формат: только латинские буквы (a-z, A-Z), цифры (0-9), нижнее подчеркивание (_)
// Длина: 3-32 символа
func ValidateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("username cannot be empty")
	}

	if len(username) < MinUsernameLen {
		return fmt.Errorf("username must be at least %d characters long", MinUsernameLen)
	}

	if len(username) > MaxUsernameLen {
		return fmt.Errorf("username must not exceed %d characters", MaxUsernameLen)
	}

	if !UsernamePattern.MatchString(username) {
		return fmt.Errorf("username can only contain letters (a-z, A-Z), numbers (0-9), and underscores (_)")
	}

	return nil
}

// ValidateName проверяет имя tenant или коллекции.
// Допустимы любые печатные символы, кроме '/', длина 1-128 символов.
func ValidateName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%s name cannot be empty", kind)
	}

	if n := utf8.RuneCountInString(name); n > MaxNameLen {
		return fmt.Errorf("%s name must not exceed %d characters", kind, MaxNameLen)
	}

	for _, r := range name {
		if r == '/' || r == utf8.RuneError || !unicode.IsPrint(r) {
			return fmt.Errorf("%s name contains invalid character %q", kind, r)
		}
	}

	return nil
}
