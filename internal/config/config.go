// Пакет config — загрузка и валидация конфигурации catalog master
// из переменных окружения (префикс CM_).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Режимы развёртывания.
const (
	ReplicaModeStandalone = "standalone"
	ReplicaModeReplicated = "replicated"
)

// Config содержит все параметры конфигурации catalog master.
type Config struct {
	// Порт HTTP-сервера (диапазон 8020-8029)
	Port int
	// Уникальный идентификатор узла (например, "cm-0")
	NodeID string
	// Директория системного каталога (в replicated mode — общая NFS)
	DataDir string
	// Директория WAL
	WALDir string
	// Режим развёртывания: standalone или replicated
	ReplicaMode string
	// Интервал retry захвата flock для follower (только replicated)
	ElectionRetryInterval time.Duration

	// Максимальное ожидание барьера лидерства операцией
	LockWaitTimeout time.Duration
	// Удержание guard-а дольше порога логируется на WARN
	LeaderLockWarnThreshold time.Duration
	// Размер и TTL журнала долгих удержаний (/api/v1/debug/leader-guards)
	GuardDiagSize int
	GuardDiagTTL  time.Duration

	// URL JWKS endpoint (пусто — аутентификация отключена)
	JWKSUrl string
	// Путь к CA-сертификату для JWKS endpoint (опционально)
	JWKSCACert string
	// Пропуск проверки TLS сертификата JWKS (только dev)
	TLSSkipVerify bool
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал обновления ключей JWKS
	JWKSRefreshInterval time.Duration
	// Допуск расхождения часов при проверке exp/nbf
	JWTLeeway time.Duration

	// TLS сертификат и ключ (оба пусты — plain HTTP)
	TLSCert string
	TLSKey  string

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// Таймаут graceful shutdown HTTP-сервера.
	// Должен быть меньше K8s terminationGracePeriodSeconds,
	// чтобы election.Stop() успел освободить flock до SIGKILL.
	ShutdownTimeout time.Duration

	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics
	DephealthGroup string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}

	// CM_PORT — порт HTTP-сервера (по умолчанию 8020)
	port, err := getEnvInt("CM_PORT", 8020)
	if err != nil {
		return nil, fmt.Errorf("CM_PORT: %w", err)
	}
	if port < 8020 || port > 8029 {
		return nil, fmt.Errorf("CM_PORT: значение %d вне допустимого диапазона 8020-8029", port)
	}
	cfg.Port = port

	if cfg.NodeID, err = getEnvRequired("CM_NODE_ID"); err != nil {
		return nil, err
	}
	if cfg.DataDir, err = getEnvRequired("CM_DATA_DIR"); err != nil {
		return nil, err
	}
	if cfg.WALDir, err = getEnvRequired("CM_WAL_DIR"); err != nil {
		return nil, err
	}

	cfg.ReplicaMode = getEnvDefault("CM_REPLICA_MODE", ReplicaModeStandalone)
	if cfg.ReplicaMode != ReplicaModeStandalone && cfg.ReplicaMode != ReplicaModeReplicated {
		return nil, fmt.Errorf("CM_REPLICA_MODE: недопустимое значение %q, допустимые: standalone, replicated", cfg.ReplicaMode)
	}

	// CM_ELECTION_RETRY_INTERVAL — скорость failover ограничена NFS lease (~90s)
	if cfg.ElectionRetryInterval, err = getEnvPositiveDuration("CM_ELECTION_RETRY_INTERVAL", 5*time.Second); err != nil {
		return nil, fmt.Errorf("CM_ELECTION_RETRY_INTERVAL: %w", err)
	}

	if cfg.LockWaitTimeout, err = getEnvPositiveDuration("CM_LOCK_WAIT_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("CM_LOCK_WAIT_TIMEOUT: %w", err)
	}
	if cfg.LeaderLockWarnThreshold, err = getEnvPositiveDuration("CM_LEADER_LOCK_WARN_THRESHOLD", time.Second); err != nil {
		return nil, fmt.Errorf("CM_LEADER_LOCK_WARN_THRESHOLD: %w", err)
	}
	if cfg.GuardDiagSize, err = getEnvInt("CM_GUARD_DIAG_SIZE", 256); err != nil {
		return nil, fmt.Errorf("CM_GUARD_DIAG_SIZE: %w", err)
	}
	if cfg.GuardDiagSize <= 0 {
		return nil, fmt.Errorf("CM_GUARD_DIAG_SIZE: значение должно быть положительным")
	}
	if cfg.GuardDiagTTL, err = getEnvPositiveDuration("CM_GUARD_DIAG_TTL", 10*time.Minute); err != nil {
		return nil, fmt.Errorf("CM_GUARD_DIAG_TTL: %w", err)
	}

	cfg.JWKSUrl = getEnvDefault("CM_JWKS_URL", "")
	cfg.JWKSCACert = getEnvDefault("CM_JWKS_CA_CERT", "")
	if cfg.TLSSkipVerify, err = getEnvBool("CM_TLS_SKIP_VERIFY", false); err != nil {
		return nil, fmt.Errorf("CM_TLS_SKIP_VERIFY: %w", err)
	}
	if cfg.JWKSClientTimeout, err = getEnvPositiveDuration("CM_JWKS_CLIENT_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("CM_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	if cfg.JWKSRefreshInterval, err = getEnvPositiveDuration("CM_JWKS_REFRESH_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("CM_JWKS_REFRESH_INTERVAL: %w", err)
	}
	if cfg.JWTLeeway, err = getEnvDuration("CM_JWT_LEEWAY", 5*time.Second); err != nil {
		return nil, fmt.Errorf("CM_JWT_LEEWAY: %w", err)
	}

	// CM_TLS_CERT / CM_TLS_KEY — задаются парой
	cfg.TLSCert = getEnvDefault("CM_TLS_CERT", "")
	cfg.TLSKey = getEnvDefault("CM_TLS_KEY", "")
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("CM_TLS_CERT и CM_TLS_KEY задаются только вместе")
	}

	if cfg.LogLevel, err = parseLogLevel(getEnvDefault("CM_LOG_LEVEL", "info")); err != nil {
		return nil, fmt.Errorf("CM_LOG_LEVEL: %w", err)
	}
	cfg.LogFormat = getEnvDefault("CM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("CM_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	if cfg.ShutdownTimeout, err = getEnvPositiveDuration("CM_SHUTDOWN_TIMEOUT", 5*time.Second); err != nil {
		return nil, fmt.Errorf("CM_SHUTDOWN_TIMEOUT: %w", err)
	}

	if cfg.DephealthCheckInterval, err = getEnvPositiveDuration("CM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("CM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthGroup = getEnvDefault("CM_DEPHEALTH_GROUP", "catalog-master")

	if cfg.HTTPReadTimeout, err = getEnvPositiveDuration("CM_HTTP_READ_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("CM_HTTP_READ_TIMEOUT: %w", err)
	}
	if cfg.HTTPWriteTimeout, err = getEnvPositiveDuration("CM_HTTP_WRITE_TIMEOUT", 60*time.Second); err != nil {
		return nil, fmt.Errorf("CM_HTTP_WRITE_TIMEOUT: %w", err)
	}
	if cfg.HTTPIdleTimeout, err = getEnvPositiveDuration("CM_HTTP_IDLE_TIMEOUT", 120*time.Second); err != nil {
		return nil, fmt.Errorf("CM_HTTP_IDLE_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// Standalone возвращает true для CM_REPLICA_MODE=standalone.
func (c *Config) Standalone() bool {
	return c.ReplicaMode == ReplicaModeStandalone
}

// AuthEnabled возвращает true, если задан CM_JWKS_URL.
func (c *Config) AuthEnabled() bool {
	return c.JWKSUrl != ""
}

// TLSEnabled возвращает true, если заданы CM_TLS_CERT и CM_TLS_KEY.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != ""
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 500ms, 30s, 1h)", val)
	}
	return d, nil
}

// getEnvPositiveDuration — getEnvDuration с проверкой d > 0.
func getEnvPositiveDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, defaultVal)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
	}
	return d, nil
}

func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
