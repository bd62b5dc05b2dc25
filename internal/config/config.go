package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

// Game holds the round timing and room size rules.
type Game struct {
	InitialSequenceLength int
	ColorDisplay          time.Duration
	ColorGap              time.Duration
	InputTimeoutBase      time.Duration
	InputTimeoutPerColor  time.Duration
	RoundResultDelay      time.Duration
	CountdownDuration     time.Duration
	// TimerTick is the timer_update cadence during player input; 0 disables it.
	TimerTick  time.Duration
	MinPlayers int
	MaxPlayers int
}

// DisplayDuration is how long a sequence of n colors takes to show.
func (g Game) DisplayDuration(n int) time.Duration {
	return time.Duration(n) * (g.ColorDisplay + g.ColorGap)
}

// InputTimeout is the player_input window for a sequence of n colors.
func (g Game) InputTimeout(n int) time.Duration {
	return g.InputTimeoutBase + time.Duration(n)*g.InputTimeoutPerColor
}

type Presence struct {
	// Buffer is the first debounce stage, before the player is shown as disconnected.
	Buffer time.Duration
	// Grace is the second stage, before the player is removed.
	Grace time.Duration
}

type Sweep struct {
	Interval  time.Duration
	Retention time.Duration
}

type Config struct {
	Env            string
	Port           int
	DatabaseURL    string
	JWTSecret      string
	CredentialTTL  time.Duration
	AllowedOrigins []string
	LogLevel       string
	LogPretty      bool

	Game     Game
	Presence Presence
	Sweep    Sweep
}

func Default() Config {
	return Config{
		Env:            "local",
		Port:           8080,
		CredentialTTL:  24 * time.Hour,
		AllowedOrigins: []string{"*"},
		LogLevel:       "info",
		Game: Game{
			InitialSequenceLength: 1,
			ColorDisplay:          600 * time.Millisecond,
			ColorGap:              200 * time.Millisecond,
			InputTimeoutBase:      15 * time.Second,
			InputTimeoutPerColor:  2 * time.Second,
			RoundResultDelay:      3 * time.Second,
			CountdownDuration:     3 * time.Second,
			TimerTick:             time.Second,
			MinPlayers:            2,
			MaxPlayers:            8,
		},
		Presence: Presence{
			Buffer: 5 * time.Second,
			Grace:  30 * time.Second,
		},
		Sweep: Sweep{
			Interval:  time.Minute,
			Retention: 10 * time.Minute,
		},
	}
}

// Load reads the environment on top of Default.
func Load() (Config, error) {
	cfg := Default()
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
	duration := func(key string, dst *time.Duration) {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
	boolean := func(key string, dst *bool) {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}

	str("APP_ENV", &cfg.Env)
	integer("PORT", &cfg.Port)
	str("DATABASE_URL", &cfg.DatabaseURL)
	str("JWT_SECRET", &cfg.JWTSecret)
	duration("CREDENTIAL_TTL", &cfg.CredentialTTL)
	str("LOG_LEVEL", &cfg.LogLevel)
	boolean("LOG_PRETTY", &cfg.LogPretty)
	if v, ok := os.LookupEnv("ALLOWED_ORIGINS"); ok && v != "" {
		cfg.AllowedOrigins = strings.Split(v, ",")
	}

	integer("INITIAL_SEQUENCE_LENGTH", &cfg.Game.InitialSequenceLength)
	duration("COLOR_DISPLAY", &cfg.Game.ColorDisplay)
	duration("COLOR_GAP", &cfg.Game.ColorGap)
	duration("INPUT_TIMEOUT_BASE", &cfg.Game.InputTimeoutBase)
	duration("INPUT_TIMEOUT_PER_COLOR", &cfg.Game.InputTimeoutPerColor)
	duration("ROUND_RESULT_DELAY", &cfg.Game.RoundResultDelay)
	duration("COUNTDOWN_DURATION", &cfg.Game.CountdownDuration)
	duration("TIMER_TICK", &cfg.Game.TimerTick)
	integer("MIN_PLAYERS", &cfg.Game.MinPlayers)
	integer("MAX_PLAYERS", &cfg.Game.MaxPlayers)

	duration("DISCONNECT_BUFFER", &cfg.Presence.Buffer)
	duration("DISCONNECT_GRACE", &cfg.Presence.Grace)

	duration("SWEEP_INTERVAL", &cfg.Sweep.Interval)
	duration("ROOM_RETENTION", &cfg.Sweep.Retention)

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}

	if cfg.JWTSecret == "" {
		if cfg.Env != "local" {
			return Config{}, errors.New("invalid configuration: JWT_SECRET is required")
		}
		secret, err := randomSecret()
		if err != nil {
			return Config{}, err
		}
		cfg.JWTSecret = secret
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("invalid configuration: port %d out of range", c.Port)
	case c.Game.InitialSequenceLength < 1:
		return errors.New("invalid configuration: INITIAL_SEQUENCE_LENGTH must be at least 1")
	case c.Game.MinPlayers < 1 || c.Game.MaxPlayers < c.Game.MinPlayers:
		return fmt.Errorf("invalid configuration: players range %d..%d", c.Game.MinPlayers, c.Game.MaxPlayers)
	case c.Game.InputTimeoutBase <= 0 && c.Game.InputTimeoutPerColor <= 0:
		return errors.New("invalid configuration: input timeout must be positive")
	case c.Presence.Buffer < 0 || c.Presence.Grace < 0:
		return errors.New("invalid configuration: presence windows must not be negative")
	case c.Sweep.Interval <= 0:
		return errors.New("invalid configuration: SWEEP_INTERVAL must be positive")
	}
	return nil
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate local jwt secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
