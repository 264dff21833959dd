package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
[server]
username = "clinica"
password = "file-secret"
idle_timeout = "45s"

[ocr]
engine = "documentai"
project = "vet-project"
processor_id = "abc123"
languages = ["pt", "es"]

[store]
backend = "local"
local_dir = "/tmp/exams"

[mail]
username = "lab@example.com"
password = "app-password"

[timeouts]
mail = "10s"
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "examflow.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleTOML), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Server.IdleTimeout.Duration)
	assert.Equal(t, EngineVision, cfg.OCR.Engine)
	assert.Equal(t, []string{"pt"}, cfg.OCR.Languages)
	assert.Equal(t, "modelo_padrao.docx", cfg.Store.TemplateName)
	assert.Equal(t, "smtp.gmail.com", cfg.Mail.Host)
	assert.Equal(t, 465, cfg.Mail.Port)
	assert.Equal(t, "Documento Processado", cfg.Mail.Subject)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeConfig(t)
	t.Setenv("APP_PASSWORD", "env-secret")
	t.Setenv("MAIL_TIMEOUT", "5s")
	t.Setenv("OCR_LANGUAGES", "pt, en")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "clinica", cfg.Server.Username)
	assert.Equal(t, "env-secret", cfg.Server.Password, "environment overrides the file")
	assert.Equal(t, 45*time.Second, cfg.Server.IdleTimeout.Duration)
	assert.Equal(t, EngineDocumentAI, cfg.OCR.Engine)
	assert.Equal(t, []string{"pt", "en"}, cfg.OCR.Languages)
	assert.Equal(t, 5*time.Second, cfg.Timeouts.Mail.Duration)
	assert.Equal(t, 60*time.Second, cfg.Timeouts.Store.Duration, "untouched keys keep defaults")
	assert.Equal(t, "lab@example.com", cfg.MailFrom())

	require.NoError(t, cfg.ValidateServer())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	t.Setenv("SMTP_PORT", "not-a-port")
	_, err = Load("")
	assert.ErrorContains(t, err, "SMTP_PORT")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown engine", func(c *Config) { c.OCR.Engine = "tesseract" }, "unknown OCR_ENGINE"},
		{"documentai without processor", func(c *Config) {
			c.OCR.Engine = EngineDocumentAI
			c.OCR.GoogleCloudProject = "p"
		}, "DOCUMENT_AI_PROCESSOR_ID"},
		{"drive without folder", func(c *Config) { c.Store.DriveFolderID = "" }, "GDRIVE_FOLDER_ID"},
		{"gcs without bucket", func(c *Config) { c.Store.Backend = StoreGCS }, "GCS_OUTPUT_BUCKET"},
		{"unknown store", func(c *Config) { c.Store.Backend = "s3" }, "unknown STORE_BACKEND"},
		{"missing mail login", func(c *Config) { c.Mail.Password = "" }, "SENHA_EMAIL"},
		{"zero timeout", func(c *Config) { c.Timeouts.OCR.Duration = 0 }, "OCR_TIMEOUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Store.DriveFolderID = "folder"
			cfg.Mail.Username = "lab@example.com"
			cfg.Mail.Password = "pw"
			require.NoError(t, cfg.Validate())

			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}

	cfg := Default()
	cfg.Store.DriveFolderID = "folder"
	cfg.Mail.Username = "lab@example.com"
	cfg.Mail.Password = "pw"
	assert.ErrorContains(t, cfg.ValidateServer(), "APP_USERNAME")
}
