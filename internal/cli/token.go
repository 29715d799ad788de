package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// TokenEnv переменная окружения с токеном доступа к DataGate
const TokenEnv = "DOCSYNC_AUTH_TOKEN"

var errEmptyToken = errors.New("auth token cannot be empty")

// TokenSources источники токена помимо окружения и интерактивного ввода
type TokenSources struct {
	FromFile   string // FromFile путь к файлу с токеном (--token-file)
	FromConfig string // FromConfig authToken из конфигурации или --token
}

// resolveToken возвращает токен в порядке приоритета:
// 1. Переменная окружения DOCSYNC_AUTH_TOKEN
// 2. Файл --token-file
// 3. --token или authToken из конфигурации
// 4. Интерактивный ввод
func resolveToken(sources TokenSources, prompter Prompter) (string, error) {
	if token := strings.TrimSpace(os.Getenv(TokenEnv)); token != "" {
		return token, nil
	}

	if sources.FromFile != "" {
		content, err := os.ReadFile(sources.FromFile)
		if err != nil {
			return "", fmt.Errorf("failed to read token file: %w", err)
		}
		token := strings.TrimSpace(string(content))
		if token == "" {
			return "", fmt.Errorf("token file is empty")
		}
		return token, nil
	}

	if sources.FromConfig != "" {
		return sources.FromConfig, nil
	}

	token, err := prompter.ReadSecret("DataGate auth token: ")
	if err != nil {
		return "", fmt.Errorf("failed to read token from stdin: %w", err)
	}
	if token == "" {
		return "", errEmptyToken
	}
	return token, nil
}
