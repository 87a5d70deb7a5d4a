// Package config loads client and relay settings from the environment.
// A .env file in the working directory is read first when present.
package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// TransportWebSocket is the only transport this client implements.
const TransportWebSocket = "websocket"

// Transport holds the connection parameters of the session server.
type Transport struct {
	ServerURL string `env:"CHAT_SERVER_URL" envDefault:"ws://localhost:3000/ws"`
	// ReconnectAttempts is the number of dial attempts of one connect cycle.
	ReconnectAttempts int `env:"CHAT_RECONNECT_ATTEMPTS" envDefault:"5"`
	// ReconnectDelay is the wait before the second attempt.
	ReconnectDelay time.Duration `env:"CHAT_RECONNECT_DELAY" envDefault:"1s"`
	// ReconnectMaxDelay caps the delay. When it equals ReconnectDelay the
	// delay is fixed, otherwise it grows exponentially up to this cap.
	ReconnectMaxDelay time.Duration `env:"CHAT_RECONNECT_MAX_DELAY" envDefault:"1s"`
	// ConnectTimeout bounds a single dial attempt.
	ConnectTimeout time.Duration `env:"CHAT_CONNECT_TIMEOUT" envDefault:"10s"`
	// ConnectDeadline bounds a whole connect cycle.
	ConnectDeadline time.Duration `env:"CHAT_CONNECT_DEADLINE" envDefault:"1m"`
	// Transports lists the allowed transports in order of preference.
	Transports []string `env:"CHAT_TRANSPORTS" envDefault:"websocket,polling" envSeparator:","`
}

// Session holds the behaviour knobs of the chat session.
type Session struct {
	TypingTimeout    time.Duration `env:"CHAT_TYPING_TIMEOUT" envDefault:"3s"`
	MaxMessageLength int           `env:"CHAT_MAX_MESSAGE_LENGTH" envDefault:"500"`
	// AutoRecover reconnects after an unexpected transport loss. Server
	// initiated closes are always retried once by the connection manager.
	AutoRecover bool `env:"CHAT_AUTO_RECOVER" envDefault:"true"`
	// ObserverBuffer is the capacity of the pending-notification queue.
	ObserverBuffer int `env:"CHAT_OBSERVER_BUFFER" envDefault:"64"`
	// InboundBuffer is the capacity of the inbound event queue.
	InboundBuffer int `env:"CHAT_INBOUND_BUFFER" envDefault:"256"`
}

// Log configures the zerolog global logger.
type Log struct {
	Level   string `env:"LOG_LEVEL" envDefault:"info"`
	Console bool   `env:"LOG_CONSOLE" envDefault:"true"`
}

// Client is the full configuration of a chat client.
type Client struct {
	Transport Transport
	Session   Session
	Log       Log
}

// Relay is the configuration of the development relay server.
type Relay struct {
	Addr string `env:"RELAY_ADDR" envDefault:":3000"`
	// PostgresDSN selects the gorm/redis storage. Empty means in-memory.
	PostgresDSN   string `env:"RELAY_POSTGRES_DSN"`
	RedisAddr     string `env:"RELAY_REDIS_ADDR" envDefault:"localhost:6380"`
	RedisPassword string `env:"RELAY_REDIS_PASSWORD"`
	RedisDB       int    `env:"RELAY_REDIS_DB" envDefault:"0"`
	Log           Log
}

// LoadDotEnv reads .env files into the process environment. A missing
// file is not an error.
func LoadDotEnv(files ...string) {
	if err := godotenv.Load(files...); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}
}

// LoadClient parses and validates the client configuration.
func LoadClient() (Client, error) {
	LoadDotEnv()

	var cfg Client
	if err := env.Parse(&cfg); err != nil {
		return Client{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Client{}, err
	}
	return cfg, nil
}

// LoadRelay parses the relay configuration.
func LoadRelay() (Relay, error) {
	LoadDotEnv()

	var cfg Relay
	if err := env.Parse(&cfg); err != nil {
		return Relay{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// DefaultClient returns the configuration with every default applied and
// nothing read from the environment.
func DefaultClient() Client {
	var cfg Client
	_ = env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}})
	return cfg
}

// Validate checks the client configuration.
func (c Client) Validate() error {
	var problems []error

	t := c.Transport
	if t.ServerURL == "" {
		problems = append(problems, errors.New("server URL is required"))
	}
	if t.ReconnectAttempts < 1 {
		problems = append(problems, fmt.Errorf("reconnect attempts must be at least 1, got %d", t.ReconnectAttempts))
	}
	if t.ReconnectDelay <= 0 {
		problems = append(problems, errors.New("reconnect delay must be positive"))
	}
	if t.ReconnectMaxDelay < t.ReconnectDelay {
		problems = append(problems, errors.New("reconnect max delay must not be below reconnect delay"))
	}
	if t.ConnectTimeout <= 0 {
		problems = append(problems, errors.New("connect timeout must be positive"))
	}
	if t.ConnectDeadline <= 0 {
		problems = append(problems, errors.New("connect deadline must be positive"))
	}
	if !slices.Contains(t.Transports, TransportWebSocket) {
		problems = append(problems, fmt.Errorf("transports %v do not include %q", t.Transports, TransportWebSocket))
	}

	s := c.Session
	if s.TypingTimeout <= 0 {
		problems = append(problems, errors.New("typing timeout must be positive"))
	}
	if s.MaxMessageLength < 1 {
		problems = append(problems, errors.New("max message length must be positive"))
	}
	if s.ObserverBuffer < 1 || s.InboundBuffer < 1 {
		problems = append(problems, errors.New("queue buffers must be positive"))
	}

	if err := errors.Join(problems...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
