package cli

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubPrompter возвращает заданный ввод и запоминает число запросов
type stubPrompter struct {
	err    error
	secret string
	calls  int
}

func (p *stubPrompter) ReadSecret(string) (string, error) {
	p.calls++
	return p.secret, p.err
}

func writeTokenFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestResolveToken(t *testing.T) {
	tests := []struct {
		wantErr   error
		prompter  *stubPrompter
		name      string
		env       string
		file      string
		config    string
		want      string
		wantCalls int
	}{
		{
			name:     "environment wins",
			env:      "env-token",
			file:     "file-token",
			config:   "config-token",
			prompter: &stubPrompter{secret: "typed"},
			want:     "env-token",
		},
		{
			name:     "file before config",
			file:     "file-token\n",
			config:   "config-token",
			prompter: &stubPrompter{secret: "typed"},
			want:     "file-token",
		},
		{
			name:     "config before prompt",
			config:   "config-token",
			prompter: &stubPrompter{secret: "typed"},
			want:     "config-token",
		},
		{
			name:      "prompt as fallback",
			prompter:  &stubPrompter{secret: "typed"},
			want:      "typed",
			wantCalls: 1,
		},
		{
			name:      "empty prompt",
			prompter:  &stubPrompter{},
			wantErr:   errEmptyToken,
			wantCalls: 1,
		},
		{
			name:      "prompt failure",
			prompter:  &stubPrompter{err: errors.New("stdin closed")},
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(TokenEnv, tt.env)

			sources := TokenSources{FromConfig: tt.config}
			if tt.file != "" {
				sources.FromFile = writeTokenFile(t, tt.file)
			}

			token, err := resolveToken(sources, tt.prompter)
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.want == "":
				assert.Error(t, err)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.want, token)
			}
			assert.Equal(t, tt.wantCalls, tt.prompter.calls)
		})
	}
}

func TestResolveToken_FileErrors(t *testing.T) {
	t.Setenv(TokenEnv, "")

	t.Run("missing file", func(t *testing.T) {
		_, err := resolveToken(TokenSources{FromFile: filepath.Join(t.TempDir(), "absent")}, &stubPrompter{})
		assert.Error(t, err)
	})

	t.Run("empty file", func(t *testing.T) {
		_, err := resolveToken(TokenSources{FromFile: writeTokenFile(t, "  \n")}, &stubPrompter{})
		assert.EqualError(t, err, "token file is empty")
	})
}
