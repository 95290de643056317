package env

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Server is the configuration shared by the api and websocket binaries.
type Server struct {
	ListenAddr       string        `env:"LISTEN_ADDR" envDefault:":82"`
	WSListenAddr     string        `env:"WS_LISTEN_ADDR" envDefault:":83"`
	AWSRegion        string        `env:"AWS_REGION,required,notEmpty"`
	AWSID            string        `env:"AWS_ID"`
	AWSSecret        string        `env:"AWS_SECRET"`
	AWSToken         string        `env:"AWS_TOKEN"`
	DynamoDBEndpoint string        `env:"DYNAMODB_ENDPOINT"`
	TokenSecret      string        `env:"CHAT_TOKEN_SECRET,required,notEmpty"`
	ChatRedisURL     string        `env:"CHAT_REDIS_URL,required,notEmpty"`
	ChatRedisPass    string        `env:"CHAT_REDIS_PASS"`
	AllowedOrigins   []string      `env:"WEB_URL" envSeparator:"," envDefault:"http://localhost:3000"`
	QueueSize        int           `env:"REQUEST_QUEUE_SIZE" envDefault:"10"`
	QueueWorkers     int           `env:"REQUEST_QUEUE_WORKERS" envDefault:"10"`
	IdempotencyTTL   time.Duration `env:"SEND_IDEMPOTENCY_TTL" envDefault:"10m"`
	LogFile          string        `env:"LOG_FILE"`
	Production       bool          `env:"PRODUCTION" envDefault:"false"`
}

// Client is the configuration of chat-cli.
type Client struct {
	APIURL         string        `env:"CHAT_API_URL" envDefault:"http://localhost:82/api/v1"`
	WebsocketURL   string        `env:"CHAT_WS_URL" envDefault:"ws://localhost:83/api/ws/v1/channel"`
	Token          string        `env:"CHAT_TOKEN"`
	TokenSecret    string        `env:"CHAT_TOKEN_SECRET"`
	RequestTimeout time.Duration `env:"CHAT_REQUEST_TIMEOUT" envDefault:"15s"`
	LogFile        string        `env:"CHAT_LOG_FILE" envDefault:"chat-cli.log"`
}

// Dev configures the single-process dev server, which keeps everything in
// memory and needs neither AWS nor Redis.
type Dev struct {
	ListenAddr     string        `env:"DEV_LISTEN_ADDR" envDefault:":8080"`
	TokenSecret    string        `env:"CHAT_TOKEN_SECRET" envDefault:"dev-secret"`
	AllowedOrigins []string      `env:"WEB_URL" envSeparator:"," envDefault:"http://localhost:3000"`
	IdempotencyTTL time.Duration `env:"SEND_IDEMPOTENCY_TTL" envDefault:"10m"`
	LogFile        string        `env:"LOG_FILE"`
}

// loadDotEnv reads .env if it exists. A missing file is not an error.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("env: load .env: %w", err)
	}
	return nil
}

func LoadServer() (Server, error) {
	if err := loadDotEnv(); err != nil {
		return Server{}, err
	}
	var cfg Server
	if err := env.Parse(&cfg); err != nil {
		return Server{}, fmt.Errorf("env: parse server config: %w", err)
	}
	return cfg, nil
}

func LoadClient() (Client, error) {
	if err := loadDotEnv(); err != nil {
		return Client{}, err
	}
	var cfg Client
	if err := env.Parse(&cfg); err != nil {
		return Client{}, fmt.Errorf("env: parse client config: %w", err)
	}
	return cfg, nil
}

func LoadDev() (Dev, error) {
	if err := loadDotEnv(); err != nil {
		return Dev{}, err
	}
	var cfg Dev
	if err := env.Parse(&cfg); err != nil {
		return Dev{}, fmt.Errorf("env: parse dev config: %w", err)
	}
	return cfg, nil
}
