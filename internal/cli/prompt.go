package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

//go:generate moq -out prompter_mock_test.go . Prompter

// Prompter запрашивает ввод у пользователя
type Prompter interface {
	ReadSecret(prompt string) (string, error)
}

// Terminal читает ввод из stdin; секреты на терминале не отображаются
type Terminal struct {
	in  *os.File
	out io.Writer
}

// NewTerminal создает Prompter поверх stdin и stderr
func NewTerminal() *Terminal {
	return &Terminal{in: os.Stdin, out: os.Stderr}
}

// ReadSecret читает строку без эха, если stdin - терминал.
// Иначе (pipe, файл) читается первая строка как есть.
func (t *Terminal) ReadSecret(prompt string) (string, error) {
	fmt.Fprint(t.out, prompt)

	fd := int(t.in.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(t.in).ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}

	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(t.out)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(secret)), nil
}
