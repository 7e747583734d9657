package main

import (
	"context"
	"log"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/SantiagoCoronado/personal-rag-system/internal/ai"
	"github.com/SantiagoCoronado/personal-rag-system/internal/chunker"
	"github.com/SantiagoCoronado/personal-rag-system/internal/config"
	"github.com/SantiagoCoronado/personal-rag-system/internal/embed"
	"github.com/SantiagoCoronado/personal-rag-system/internal/ingest"
	"github.com/SantiagoCoronado/personal-rag-system/internal/store"
)

func main() {
	fs := pflag.NewFlagSet("ragsystem-ingest", pflag.ExitOnError)
	fs.String("dir", ".", "Directory of text files to ingest")
	fs.String("user-email", "", "Email of the user who will own the documents")

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	dir, _ := fs.GetString("dir")
	userEmail, _ := fs.GetString("user-email")
	if strings.TrimSpace(userEmail) == "" {
		log.Fatal("--user-email is required")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	provider := strings.ToLower(cfg.Provider)
	logger.Info().Str("provider", provider).Str("dir", dir).Msg("starting ingestion")

	var clientConfig *ai.ClientConfig
	switch provider {
	case "openai":
		clientConfig = &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			ChatModel:  cfg.ChatModel,
			Dim:        cfg.Dim,
			Provider:   ai.ProviderOpenAI,
		}
	case "gemini", "vertexai", "google":
		clientConfig = &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			ChatModel:  cfg.ChatModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Location:   cfg.Location,
			Provider:   ai.ProviderGemini,
		}
	case "stub":
		clientConfig = &ai.ClientConfig{
			Dim:      cfg.Dim,
			Provider: ai.ProviderStub,
		}
	default:
		log.Fatalf("unsupported provider: %s", provider)
	}

	ctx := context.Background()

	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	client, err := ai.NewClient(ctx, clientConfig)
	if err != nil {
		log.Fatal(err)
	}
	if client.Dim() == 0 {
		log.Fatal("embedding dimension must be set")
	}

	if err := st.Migrate(ctx, client.Dim()); err != nil {
		log.Fatal(err)
	}

	user, _, found, err := st.GetUserByEmail(ctx, strings.TrimSpace(strings.ToLower(userEmail)))
	if err != nil {
		log.Fatal(err)
	}
	if !found {
		log.Fatalf("no user with email %s; register through the API first", userEmail)
	}

	ch, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		log.Fatalf("Invalid chunking configuration: %v", err)
	}
	gateway := embed.NewGateway(client, embed.Options{
		BatchSize:  cfg.EmbedBatchSize,
		MaxRetries: cfg.MaxRetries,
	}, logger)

	svc := ingest.NewService(st, gateway, ch, logger)

	n, err := svc.IngestDirectory(ctx, user.ID, dir)
	if err != nil {
		log.Fatal(err)
	}
	logger.Info().Int("documents", n).Msg("ingestion complete")
}
