package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from the environment.
type Config struct {
	Server    ServerConfig
	ChatDB    DBConfig
	CatalogDB DBConfig
	OpenAI    OpenAIConfig
	Twilio    TwilioConfig
	Media     MediaConfig
	Admin     AdminConfig

	// VocabularyFile optionally overrides the embedded anchor vocabulary.
	VocabularyFile string
}

type ServerConfig struct {
	Addr     string `validate:"required"`
	LogLevel string `validate:"oneof=debug info warn error"`
}

// DBConfig is one logical Postgres database. Password may be empty for trust
// or peer authentication.
type DBConfig struct {
	User     string `validate:"required"`
	Password string
	Host     string `validate:"required"`
	Port     int    `validate:"min=1,max=65535"`
	Name     string `validate:"required"`
	SSLMode  string `validate:"oneof=disable allow prefer require verify-ca verify-full"`
}

// URL renders the connection string understood by pgx and golang-migrate.
func (d DBConfig) URL() string {
	user := url.UserPassword(d.User, d.Password)
	if d.Password == "" {
		user = url.User(d.User)
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     user,
		Host:     net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:     "/" + d.Name,
		RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
	}
	return u.String()
}

// SameAs reports whether both configs point at the same database.
func (d DBConfig) SameAs(o DBConfig) bool {
	return d.Host == o.Host && d.Port == o.Port && d.Name == o.Name && d.User == o.User
}

type OpenAIConfig struct {
	APIKey              string `validate:"required"`
	BaseURL             string `validate:"omitempty,url"`
	Model               string `validate:"required"`
	VisionModel         string `validate:"required"`
	VisionFallbackModel string `validate:"required"`
	ImageDetail         string `validate:"oneof=low high auto"`
}

type TwilioConfig struct {
	AccountSID        string `validate:"required"`
	AuthToken         string `validate:"required"`
	Number            string `validate:"required"`
	ContentSID        string
	UseTemplate       bool
	ValidateSignature bool
}

type MediaConfig struct {
	PublicBaseURL string `validate:"omitempty,url"`
	PublicDir     string `validate:"required"`
	StaticDir     string
}

// AdminConfig guards the JSON panel API. The API stays disabled while
// JWTSecret or PasswordHash is empty.
type AdminConfig struct {
	JWTSecret    string
	Username     string
	PasswordHash string
}

// APIEnabled reports whether the authenticated panel API can be served.
func (a AdminConfig) APIEnabled() bool {
	return a.JWTSecret != "" && a.PasswordHash != ""
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	chatPort, err := getEnvInt("DB_PORT", 5432)
	if err != nil {
		return nil, err
	}
	chat := DBConfig{
		User:     getEnv("DB_USER", ""),
		Password: getEnv("DB_PASSWORD", ""),
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     chatPort,
		Name:     getEnv("DB_NAME", "postgres"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}

	catalogPort, err := getEnvInt("CATALOG_DB_PORT", chat.Port)
	if err != nil {
		return nil, err
	}
	catalog := DBConfig{
		User:     getEnv("CATALOG_DB_USER", chat.User),
		Password: getEnv("CATALOG_DB_PASSWORD", chat.Password),
		Host:     getEnv("CATALOG_DB_HOST", chat.Host),
		Port:     catalogPort,
		Name:     getEnv("CATALOG_DB_NAME", chat.Name),
		SSLMode:  getEnv("CATALOG_DB_SSLMODE", chat.SSLMode),
	}

	useTemplate, err := getEnvBool("TWILIO_USE_TEMPLATE", false)
	if err != nil {
		return nil, err
	}
	validateSig, err := getEnvBool("TWILIO_VALIDATE_SIGNATURE", false)
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: ServerConfig{
			Addr:     getEnv("SERVER_ADDR", ":8080"),
			LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),
		},
		ChatDB:    chat,
		CatalogDB: catalog,
		OpenAI: OpenAIConfig{
			APIKey:              getEnv("OPENAI_API_KEY", ""),
			BaseURL:             getEnv("OPENAI_BASE_URL", ""),
			Model:               getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			VisionModel:         getEnv("OPENAI_VISION_MODEL", "gpt-5-nano"),
			VisionFallbackModel: getEnv("OPENAI_VISION_FALLBACK_MODEL", "gpt-4o-mini"),
			ImageDetail:         getEnv("OPENAI_IMAGE_DETAIL", "low"),
		},
		Twilio: TwilioConfig{
			AccountSID:        getEnv("TWILIO_ACCOUNT_SID", ""),
			AuthToken:         getEnv("TWILIO_AUTH_TOKEN", ""),
			Number:            getEnv("TWILIO_NUMBER", ""),
			ContentSID:        getEnv("TWILIO_CONTENT_SID", ""),
			UseTemplate:       useTemplate,
			ValidateSignature: validateSig,
		},
		Media: MediaConfig{
			PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),
			PublicDir:     getEnv("PUBLIC_DIR", "public"),
			StaticDir:     getEnv("STATIC_DIR", "static"),
		},
		Admin: AdminConfig{
			JWTSecret:    getEnv("JWT_SECRET", ""),
			Username:     getEnv("ADMIN_USERNAME", "admin"),
			PasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		},
		VocabularyFile: getEnv("VOCABULARY_FILE", ""),
	}, nil
}

// Validate checks everything the HTTP server needs.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ValidateDatabases checks only the two database sections.
func (c *Config) ValidateDatabases() error {
	if err := validate.Struct(c.ChatDB); err != nil {
		return fmt.Errorf("invalid chat database configuration: %w", err)
	}
	if err := validate.Struct(c.CatalogDB); err != nil {
		return fmt.Errorf("invalid catalog database configuration: %w", err)
	}
	return nil
}

func (c *Config) ValidateOpenAI() error {
	if err := validate.Struct(c.OpenAI); err != nil {
		return fmt.Errorf("invalid openai configuration: %w", err)
	}
	return nil
}

func (c *Config) ValidateTwilio() error {
	if err := validate.Struct(c.Twilio); err != nil {
		return fmt.Errorf("invalid twilio configuration: %w", err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch raw {
	case "":
		return fallback, nil
	case "1", "true", "yes", "on", "y", "t":
		return true, nil
	case "0", "false", "no", "off", "n", "f":
		return false, nil
	}
	return false, fmt.Errorf("%s: invalid boolean %q", key, raw)
}
