// Package config описывает параметры реплики и их загрузку из YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/iudanet/docsync/internal/batch"
	"github.com/iudanet/docsync/internal/transport"
)

// Ошибки конфигурации возвращаются синхронно из Validate
var (
	ErrNoCollection     = errors.New("no collection specified")
	ErrNoRemoteURL      = errors.New("no remote url specified")
	ErrNoUserName       = errors.New("no user name specified")
	ErrNoTenant         = errors.New("no tenant specified")
	ErrInvalidChunkSize = errors.New("chunk size must be positive")
	ErrInvalidTiming    = errors.New("debounce, polling rate and timeout must be positive")
)

// Duration time.Duration, который читается из YAML строкой ("1s") или числом миллисекунд
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if ms, err := strconv.ParseInt(value.Value, 10, 64); err == nil {
		d.Duration = time.Duration(ms) * time.Millisecond
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q at line %d: %w", value.Value, value.Line, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Config параметры реплики
type Config struct {
	Collection  string   `yaml:"collection"`
	RemoteURL   string   `yaml:"remoteUrl"` // RemoteURL адрес DataGate, например ws://localhost:46005
	UserName    string   `yaml:"userName"`
	Tenant      string   `yaml:"tenant"`
	ReplicaName string   `yaml:"replicaName,omitempty"`
	AuthToken   string   `yaml:"authToken,omitempty"`
	DBPath      string   `yaml:"dbPath,omitempty"`
	Debounce    Duration `yaml:"debounce"`    // Debounce период шагов прохода
	PollingRate Duration `yaml:"pollingRate"` // PollingRate период проверки соединения
	Timeout     Duration `yaml:"timeout"`     // Timeout handshake и ожидание ConnectAck
	ChunkSize   int      `yaml:"chunkSize"`
	Workers     int      `yaml:"workers,omitempty"` // Workers размер пула обработчиков, 0 - по числу CPU
	// RetryAttempts число повторных отправок неподтвержденных изменений за проход, 0 - без повторов
	RetryAttempts int `yaml:"retryAttempts"`
}

// Default возвращает конфигурацию со значениями по умолчанию
func Default() Config {
	return Config{
		Tenant:        "default",
		DBPath:        "docsync.db",
		ChunkSize:     10,
		Debounce:      Duration{time.Second},
		PollingRate:   Duration{3 * time.Second},
		Timeout:       Duration{5 * time.Second},
		RetryAttempts: batch.DefaultMaxAttempts,
	}
}

// LoadFile читает YAML поверх значений по умолчанию.
// Неизвестные поля считаются ошибкой.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return cfg, nil
}

// Validate проверяет обязательные параметры
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Collection) == "":
		return ErrNoCollection
	case c.RemoteURL == "":
		return ErrNoRemoteURL
	case c.UserName == "":
		return ErrNoUserName
	case c.Tenant == "":
		return ErrNoTenant
	case c.ChunkSize <= 0:
		return ErrInvalidChunkSize
	case c.Debounce.Duration <= 0 || c.PollingRate.Duration <= 0 || c.Timeout.Duration <= 0:
		return ErrInvalidTiming
	}

	if _, err := url.Parse(c.RemoteURL); err != nil {
		return fmt.Errorf("invalid remote url: %w", err)
	}
	return nil
}

// DataGateURL возвращает адрес endpoint коллекции:
// {remoteUrl}/ws/datagate/{tenant}/{collection}/{user}
func (c Config) DataGateURL() (string, error) {
	base, err := url.Parse(c.RemoteURL)
	if err != nil {
		return "", fmt.Errorf("invalid remote url: %w", err)
	}

	base = base.JoinPath("ws", "datagate", c.Tenant, c.Collection, c.UserName)
	return base.String(), nil
}

// TombstoneMapName имя карты tombstones коллекции
func (c Config) TombstoneMapName() string {
	return c.Collection + "_tombstone"
}

// RetryPolicy политика повторной отправки по RetryAttempts
func (c Config) RetryPolicy() batch.RetryPolicy {
	if c.RetryAttempts <= 0 {
		return batch.NoRetry{}
	}
	return batch.MaxAttempts{N: c.RetryAttempts}
}

// TransportSettings параметры websocket соединения; handshake ограничен Timeout
func (c Config) TransportSettings() transport.Settings {
	settings := transport.DefaultSettings()
	settings.HandshakeTimeout = c.Timeout.Duration
	return settings
}
