package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"examflow/internal/config"
	"examflow/internal/googleauth"
	"examflow/internal/mailer"
	"examflow/internal/ocr"
	"examflow/internal/pipeline"
	"examflow/internal/render"
	"examflow/internal/report"
	"examflow/internal/sheets"
	"examflow/internal/store"
)

// registerLocation is the zone of the timestamps written to the processing register.
const registerLocation = "America/Sao_Paulo"

// closers releases the clients opened while wiring, in reverse order.
type closers []io.Closer

func (c closers) Close(log zerolog.Logger) {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close client")
		}
	}
}

// newEngine creates the configured recognition engine. It is created once per process.
func newEngine(ctx context.Context, cfg *config.Config, log zerolog.Logger) (ocr.Engine, io.Closer, error) {
	var (
		engine interface {
			ocr.Engine
			io.Closer
		}
		err error
	)

	switch cfg.OCR.Engine {
	case config.EngineVision:
		engine, err = ocr.NewVisionEngine(ctx, cfg.OCR.Languages)
	case config.EngineDocumentAI:
		engine, err = ocr.NewDocumentAIEngine(ctx, ocr.DocumentAIConfig{
			ProjectID:   cfg.OCR.GoogleCloudProject,
			Location:    cfg.OCR.GoogleCloudLocation,
			ProcessorID: cfg.OCR.DocumentAIProcessorID,
		})
	default:
		return nil, nil, fmt.Errorf("unknown OCR engine %q", cfg.OCR.Engine)
	}
	if err != nil {
		if errors.Is(err, googleauth.ErrMissingCredentials) {
			log.Error().Err(err).Msg("Google Cloud credentials not configured")
			return nil, nil, fmt.Errorf("Google Cloud credentials not configured. Please set one of:\n\n" +
				"1. Export GOOGLE_APPLICATION_CREDENTIALS with path to service account JSON:\n" +
				"   export GOOGLE_APPLICATION_CREDENTIALS=/path/to/service-account-key.json\n\n" +
				"2. Export GOOGLE_CREDENTIALS with inline JSON:\n" +
				"   export GOOGLE_CREDENTIALS='{\"type\":\"service_account\",\"project_id\":\"your-project\",...}'\n\n" +
				"3. Use Application Default Credentials (if gcloud is configured):\n" +
				"   gcloud auth application-default login")
		}
		log.Error().Err(err).Str("engine", cfg.OCR.Engine).Msg("Failed to create OCR engine")
		return nil, nil, fmt.Errorf("failed to create OCR engine: %w", err)
	}

	log.Debug().Str("engine", engine.Name()).Msg("OCR engine created")
	return engine, engine, nil
}

// newStore creates the configured document store. The closer is nil for stores without a client.
func newStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (store.Store, io.Closer, error) {
	switch cfg.Store.Backend {
	case config.StoreDrive:
		s, err := store.NewDriveStore(ctx, cfg.Store.DriveFolderID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Drive store: %w", err)
		}
		log.Debug().Str("folder_id", cfg.Store.DriveFolderID).Msg("Drive store created")
		return s, nil, nil
	case config.StoreGCS:
		s, err := store.NewGCSStore(ctx, cfg.Store.GCSBucket, cfg.Store.GCSFolder)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Cloud Storage store: %w", err)
		}
		log.Debug().Str("bucket", cfg.Store.GCSBucket).Str("folder", cfg.Store.GCSFolder).Msg("Cloud Storage store created")
		return s, s, nil
	case config.StoreLocal:
		s, err := store.NewLocalStore(cfg.Store.LocalDir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create local store: %w", err)
		}
		log.Debug().Str("dir", cfg.Store.LocalDir).Msg("Local store created")
		return s, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// buildPipeline wires every collaborator of the orchestrator from the configuration.
// The returned closers must be closed once the orchestrator is no longer used.
func buildPipeline(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*pipeline.Orchestrator, closers, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var opened closers

	engine, engineCloser, err := newEngine(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	opened = append(opened, engineCloser)

	documents, storeCloser, err := newStore(ctx, cfg, log)
	if err != nil {
		opened.Close(log)
		return nil, nil, err
	}
	if storeCloser != nil {
		opened = append(opened, storeCloser)
	}
	documents = store.WithCallTimeout(documents, cfg.Timeouts.Store.Duration)

	sender := mailer.New(mailer.Config{
		Host:     cfg.Mail.Host,
		Port:     cfg.Mail.Port,
		Username: cfg.Mail.Username,
		Password: cfg.Mail.Password,
		From:     cfg.MailFrom(),
	})

	orchestrator := pipeline.New(
		ocr.NewExtractor(engine),
		report.NewFiller(documents, cfg.Store.TemplateName),
		render.NewRenderer(documents),
		sender,
		pipeline.Config{
			Subject: cfg.Mail.Subject,
			Body:    cfg.Mail.Body,
			Timeouts: pipeline.Timeouts{
				OCR:   cfg.Timeouts.OCR.Duration,
				Store: cfg.Timeouts.Store.Duration,
				Mail:  cfg.Timeouts.Mail.Duration,
			},
		},
	)

	if cfg.Register.SheetURL != "" {
		register, err := sheets.NewRegister(ctx, cfg.Register.SheetURL, cfg.Register.Worksheet)
		if err != nil {
			opened.Close(log)
			return nil, nil, fmt.Errorf("failed to create processing register: %w", err)
		}
		if loc, err := time.LoadLocation(registerLocation); err == nil {
			register.WithLocation(loc)
		} else {
			log.Warn().Err(err).Str("location", registerLocation).Msg("Time zone unavailable, register uses UTC")
		}
		orchestrator.WithRecorder(register)
		log.Debug().Str("worksheet", cfg.Register.Worksheet).Msg("Processing register enabled")
	}

	return orchestrator, opened, nil
}
