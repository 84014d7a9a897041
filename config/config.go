package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                   int
	DataDir                string
	DownloadDir            string
	MaxConcurrentDownloads int
	FlushThreshold         int
	SendDelay              time.Duration
	SendTimeout            time.Duration
	FetchTimeout           time.Duration
	PollTimeout            time.Duration
	MaxDeliveryAttempts    int
	SourceRetries          int
	SourcePreference       []string
	YtdlpPath              string
	ProfileBaseURL         string
	SourceCookie           string
	TelegramBotToken       string
	DefaultSubscriberID    string
	APIKeyHash             string
	JobCreateLimit         int
	LogLevel               string
}

// Load reads the configuration from the environment. A .env file in the
// working directory, if present, fills in variables that are not set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return fromEnv()
}

func fromEnv() (*Config, error) {
	port, err := strconv.Atoi(getEnv("PORT", "8000"))
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	maxConcurrent, err := positiveInt("MAX_CONCURRENT_DOWNLOADS", "3")
	if err != nil {
		return nil, err
	}

	flushThreshold, err := positiveInt("FLUSH_THRESHOLD", "5")
	if err != nil {
		return nil, err
	}

	maxAttempts, err := positiveInt("MAX_DELIVERY_ATTEMPTS", "3")
	if err != nil {
		return nil, err
	}

	sourceRetries, err := strconv.Atoi(getEnv("SOURCE_RETRIES", "3"))
	if err != nil || sourceRetries < 0 {
		return nil, fmt.Errorf("invalid SOURCE_RETRIES: %q", getEnv("SOURCE_RETRIES", "3"))
	}

	jobCreateLimit, err := strconv.Atoi(getEnv("JOB_CREATE_LIMIT", "20"))
	if err != nil {
		return nil, fmt.Errorf("invalid JOB_CREATE_LIMIT: %w", err)
	}

	sendDelay, err := duration("SEND_DELAY", "1s")
	if err != nil {
		return nil, err
	}
	sendTimeout, err := duration("SEND_TIMEOUT", "2m")
	if err != nil {
		return nil, err
	}
	if sendTimeout == 0 {
		return nil, fmt.Errorf("invalid SEND_TIMEOUT: must be positive")
	}
	fetchTimeout, err := duration("FETCH_TIMEOUT", "5m")
	if err != nil {
		return nil, err
	}
	pollTimeout, err := duration("POLL_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}

	preference := splitList(getEnv("SOURCE_PREFERENCE", "ytdlp,webpage"))
	if len(preference) == 0 {
		return nil, fmt.Errorf("SOURCE_PREFERENCE must name at least one source")
	}
	for _, name := range preference {
		if name != "ytdlp" && name != "webpage" {
			return nil, fmt.Errorf("invalid SOURCE_PREFERENCE entry %q", name)
		}
	}

	return &Config{
		Port:                   port,
		DataDir:                getEnv("DATA_DIR", "./data"),
		DownloadDir:            getEnv("DOWNLOAD_DIR", "./downloads"),
		MaxConcurrentDownloads: maxConcurrent,
		FlushThreshold:         flushThreshold,
		SendDelay:              sendDelay,
		SendTimeout:            sendTimeout,
		FetchTimeout:           fetchTimeout,
		PollTimeout:            pollTimeout,
		MaxDeliveryAttempts:    maxAttempts,
		SourceRetries:          sourceRetries,
		SourcePreference:       preference,
		YtdlpPath:              getEnv("YTDLP_PATH", "yt-dlp"),
		ProfileBaseURL:         strings.TrimRight(getEnv("PROFILE_BASE_URL", "https://www.tiktok.com"), "/"),
		SourceCookie:           os.Getenv("SOURCE_COOKIE"),
		TelegramBotToken:       os.Getenv("TELEGRAM_BOT_TOKEN"),
		DefaultSubscriberID:    os.Getenv("DEFAULT_SUBSCRIBER_ID"),
		APIKeyHash:             os.Getenv("API_KEY_HASH"),
		JobCreateLimit:         jobCreateLimit,
		LogLevel:               getEnv("LOG_LEVEL", "info"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func positiveInt(key, defaultValue string) (int, error) {
	n, err := strconv.Atoi(getEnv(key, defaultValue))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n < 1 {
		return 0, fmt.Errorf("invalid %s: must be at least 1", key)
	}
	return n, nil
}

func duration(key, defaultValue string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, defaultValue))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
