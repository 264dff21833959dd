package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"examflow/internal/logger"
)

// Store backends
const (
	StoreDrive = "drive"
	StoreGCS   = "gcs"
	StoreLocal = "local"
)

// OCR engines
const (
	EngineVision     = "vision"
	EngineDocumentAI = "documentai"
)

type Config struct {
	// Operator credentials and web session
	Server ServerConfig `toml:"server"`

	// Text recognition
	OCR OCRConfig `toml:"ocr"`

	// Document store for templates and generated artifacts
	Store StoreConfig `toml:"store"`

	// Outgoing mail
	Mail MailConfig `toml:"mail"`

	// Optional Google Sheets register of processed exams
	Register RegisterConfig `toml:"register"`

	// Per-collaborator call timeouts
	Timeouts TimeoutConfig `toml:"timeouts"`

	// Logging Configuration
	Log LogConfig `toml:"log"`
}

type ServerConfig struct {
	ListenAddr  string   `toml:"listen_addr"`
	Username    string   `toml:"username"`
	Password    string   `toml:"password"`
	IdleTimeout Duration `toml:"idle_timeout"`
}

type OCRConfig struct {
	Engine                string   `toml:"engine"`
	Languages             []string `toml:"languages"`
	GoogleCloudProject    string   `toml:"project"`
	GoogleCloudLocation   string   `toml:"location"`
	DocumentAIProcessorID string   `toml:"processor_id"`
}

type StoreConfig struct {
	Backend       string `toml:"backend"`
	DriveFolderID string `toml:"drive_folder_id"`
	GCSBucket     string `toml:"gcs_bucket"`
	GCSFolder     string `toml:"gcs_folder"`
	LocalDir      string `toml:"local_dir"`
	TemplateName  string `toml:"template_name"`
}

type MailConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	From     string `toml:"from"`
	Subject  string `toml:"subject"`
	Body     string `toml:"body"`
}

type RegisterConfig struct {
	SheetURL  string `toml:"sheet_url"`
	Worksheet string `toml:"worksheet"`
}

type TimeoutConfig struct {
	OCR   Duration `toml:"ocr"`
	Store Duration `toml:"store"`
	Mail  Duration `toml:"mail"`
}

type LogConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	TimeFormat string `toml:"time_format"`
	Output     string `toml:"output"`
}

// Duration reads "30s" style values from the config file.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when neither file nor environment set a value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:  ":8080",
			IdleTimeout: Duration{30 * time.Second},
		},
		OCR: OCRConfig{
			Engine:              EngineVision,
			Languages:           []string{"pt"},
			GoogleCloudLocation: "us",
		},
		Store: StoreConfig{
			Backend:      StoreDrive,
			TemplateName: "modelo_padrao.docx",
		},
		Mail: MailConfig{
			Host:    "smtp.gmail.com",
			Port:    465,
			Subject: "Documento Processado",
			Body:    "Segue documento em anexo.",
		},
		Register: RegisterConfig{
			Worksheet: "Exames",
		},
		Timeouts: TimeoutConfig{
			OCR:   Duration{60 * time.Second},
			Store: Duration{60 * time.Second},
			Mail:  Duration{30 * time.Second},
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			TimeFormat: "2006-01-02T15:04:05Z07:00",
			Output:     "stdout",
		},
	}
}

// Load builds the configuration: defaults, then the optional TOML file, then environment variables.
// When path is empty, CONFIG_FILE is consulted.
func Load(path string) (*Config, error) {
	config := Default()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, fmt.Errorf("invalid environment configuration: %w", err)
	}

	return config, nil
}

func (c *Config) applyEnv() error {
	c.Server.ListenAddr = getEnv("LISTEN_ADDR", c.Server.ListenAddr)
	c.Server.Username = getEnv("APP_USERNAME", c.Server.Username)
	c.Server.Password = getEnv("APP_PASSWORD", c.Server.Password)

	c.OCR.Engine = strings.ToLower(getEnv("OCR_ENGINE", c.OCR.Engine))
	if langs := os.Getenv("OCR_LANGUAGES"); langs != "" {
		c.OCR.Languages = splitList(langs)
	}
	c.OCR.GoogleCloudProject = getEnv("GOOGLE_CLOUD_PROJECT", c.OCR.GoogleCloudProject)
	c.OCR.GoogleCloudLocation = getEnv("GOOGLE_CLOUD_LOCATION", c.OCR.GoogleCloudLocation)
	c.OCR.DocumentAIProcessorID = getEnv("DOCUMENT_AI_PROCESSOR_ID", c.OCR.DocumentAIProcessorID)

	c.Store.Backend = strings.ToLower(getEnv("STORE_BACKEND", c.Store.Backend))
	c.Store.DriveFolderID = getEnv("GDRIVE_FOLDER_ID", c.Store.DriveFolderID)
	c.Store.GCSBucket = getEnv("GCS_OUTPUT_BUCKET", c.Store.GCSBucket)
	c.Store.GCSFolder = getEnv("GCS_OUTPUT_FOLDER", c.Store.GCSFolder)
	c.Store.LocalDir = getEnv("LOCAL_STORE_DIR", c.Store.LocalDir)
	c.Store.TemplateName = getEnv("TEMPLATE_NAME", c.Store.TemplateName)

	c.Mail.Host = getEnv("SMTP_HOST", c.Mail.Host)
	c.Mail.Username = getEnv("EMAIL", c.Mail.Username)
	c.Mail.Password = getEnv("SENHA_EMAIL", c.Mail.Password)
	c.Mail.From = getEnv("MAIL_FROM", c.Mail.From)
	c.Mail.Subject = getEnv("MAIL_SUBJECT", c.Mail.Subject)
	c.Mail.Body = getEnv("MAIL_BODY", c.Mail.Body)
	if port := os.Getenv("SMTP_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("SMTP_PORT: %w", err)
		}
		c.Mail.Port = p
	}

	c.Register.SheetURL = getEnv("GOOGLE_SHEET_URL", c.Register.SheetURL)
	c.Register.Worksheet = getEnv("GOOGLE_SHEET_WORKSHEET", c.Register.Worksheet)

	durations := []struct {
		key    string
		target *Duration
	}{
		{"SESSION_IDLE_TIMEOUT", &c.Server.IdleTimeout},
		{"OCR_TIMEOUT", &c.Timeouts.OCR},
		{"STORE_TIMEOUT", &c.Timeouts.Store},
		{"MAIL_TIMEOUT", &c.Timeouts.Mail},
	}
	for _, d := range durations {
		if value := os.Getenv(d.key); value != "" {
			if err := d.target.UnmarshalText([]byte(value)); err != nil {
				return fmt.Errorf("%s: %w", d.key, err)
			}
		}
	}

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
	c.Log.TimeFormat = getEnv("LOG_TIME_FORMAT", c.Log.TimeFormat)
	c.Log.Output = getEnv("LOG_OUTPUT", c.Log.Output)

	return nil
}

// ValidateOCR checks the settings needed to run text recognition.
func (c *Config) ValidateOCR() error {
	switch c.OCR.Engine {
	case EngineVision:
	case EngineDocumentAI:
		if c.OCR.GoogleCloudProject == "" {
			return fmt.Errorf("GOOGLE_CLOUD_PROJECT is required for the documentai engine")
		}
		if c.OCR.DocumentAIProcessorID == "" {
			return fmt.Errorf("DOCUMENT_AI_PROCESSOR_ID is required for the documentai engine")
		}
	default:
		return fmt.Errorf("unknown OCR_ENGINE %q (expected %s or %s)", c.OCR.Engine, EngineVision, EngineDocumentAI)
	}
	return nil
}

// Validate checks everything the full pipeline needs.
func (c *Config) Validate() error {
	if err := c.ValidateOCR(); err != nil {
		return err
	}

	switch c.Store.Backend {
	case StoreDrive:
		if c.Store.DriveFolderID == "" {
			return fmt.Errorf("GDRIVE_FOLDER_ID is required for the drive store")
		}
	case StoreGCS:
		if c.Store.GCSBucket == "" {
			return fmt.Errorf("GCS_OUTPUT_BUCKET is required for the gcs store")
		}
	case StoreLocal:
		if c.Store.LocalDir == "" {
			return fmt.Errorf("LOCAL_STORE_DIR is required for the local store")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend)
	}
	if c.Store.TemplateName == "" {
		return fmt.Errorf("TEMPLATE_NAME is required")
	}

	if c.Mail.Host == "" || c.Mail.Port == 0 {
		return fmt.Errorf("SMTP_HOST and SMTP_PORT are required")
	}
	if c.Mail.Username == "" || c.Mail.Password == "" {
		return fmt.Errorf("EMAIL and SENHA_EMAIL are required")
	}

	for name, d := range map[string]Duration{"OCR_TIMEOUT": c.Timeouts.OCR, "STORE_TIMEOUT": c.Timeouts.Store, "MAIL_TIMEOUT": c.Timeouts.Mail} {
		if d.Duration <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}

// ValidateServer checks the web UI settings on top of Validate.
func (c *Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Server.Username == "" || c.Server.Password == "" {
		return fmt.Errorf("APP_USERNAME and APP_PASSWORD are required")
	}
	if c.Server.IdleTimeout.Duration <= 0 {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT must be positive")
	}
	return nil
}

// MailFrom is the sender address, defaulting to the SMTP login.
func (c *Config) MailFrom() string {
	if c.Mail.From != "" {
		return c.Mail.From
	}
	return c.Mail.Username
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		TimeFormat: c.Log.TimeFormat,
		Output:     c.Log.Output,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
