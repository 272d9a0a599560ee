package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config keeps runtime settings for the bot.
type Config struct {
	SessionPath string
	DatabaseURL string

	// Business window, in the business timezone.
	OpenHour  int
	CloseHour int

	// Fixed offset standing in for the business timezone (Brazil, UTC-3).
	// Imprecise across daylight-saving changes; accepted trade-off.
	UTCOffset time.Duration

	GreetingTriggers []string

	// Menu image sent with option 1 when the file exists.
	MenuImagePath string

	// Connection supervision.
	ReadyWatchdog  time.Duration
	LivenessEvery  time.Duration
	ReconnectDelay time.Duration

	// Persistence and pacing.
	SaveDebounce time.Duration
	QRDebounce   time.Duration
	TypingDelay  time.Duration
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	cfg := Config{
		SessionPath:    strings.TrimSpace(os.Getenv("SESSION_PATH")),
		DatabaseURL:    strings.TrimSpace(os.Getenv("DATABASE_URL")),
		MenuImagePath:  strings.TrimSpace(os.Getenv("MENU_IMAGE_PATH")),
		OpenHour:       parseHour(os.Getenv("OPEN_HOUR"), 5),
		CloseHour:      parseHour(os.Getenv("CLOSE_HOUR"), 23),
		UTCOffset:      -3 * time.Hour,
		ReadyWatchdog:  60 * time.Second,
		LivenessEvery:  45 * time.Second,
		ReconnectDelay: 5 * time.Second,
		SaveDebounce:   time.Second,
		QRDebounce:     500 * time.Millisecond,
		TypingDelay:    time.Second,
	}

	if cfg.SessionPath == "" {
		cfg.SessionPath = "session_data"
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = "file:" + cfg.SessionPath + "/whatsapp.db?_foreign_keys=on"
	}
	if cfg.MenuImagePath == "" {
		cfg.MenuImagePath = "Cardápio Empresa.jpg"
	}

	if raw := strings.TrimSpace(os.Getenv("GREETING_TRIGGERS")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if trigger := strings.TrimSpace(part); trigger != "" {
				cfg.GreetingTriggers = append(cfg.GreetingTriggers, trigger)
			}
		}
	} else {
		cfg.GreetingTriggers = []string{"oi", "ola", "bom dia", "boa tarde", "boa noite", "menu", "inicio"}
	}

	if cfg.OpenHour >= cfg.CloseHour {
		return cfg, fmt.Errorf("OPEN_HOUR (%d) must be before CLOSE_HOUR (%d)", cfg.OpenHour, cfg.CloseHour)
	}

	return cfg, nil
}

// Location returns the fixed-offset location used for all business-time math.
func (c Config) Location() *time.Location {
	offset := int(c.UTCOffset / time.Second)
	return time.FixedZone("business", offset)
}

func parseHour(raw string, fallback int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	hour, err := strconv.Atoi(raw)
	if err != nil || hour < 0 || hour > 23 {
		return fallback
	}
	return hour
}
