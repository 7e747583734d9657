package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/spf13/pflag"

	"github.com/SantiagoCoronado/personal-rag-system/internal/ai"
	"github.com/SantiagoCoronado/personal-rag-system/internal/auth"
	"github.com/SantiagoCoronado/personal-rag-system/internal/chunker"
	"github.com/SantiagoCoronado/personal-rag-system/internal/config"
	"github.com/SantiagoCoronado/personal-rag-system/internal/embed"
	"github.com/SantiagoCoronado/personal-rag-system/internal/ingest"
	"github.com/SantiagoCoronado/personal-rag-system/internal/rag"
	"github.com/SantiagoCoronado/personal-rag-system/internal/store"
	"github.com/SantiagoCoronado/personal-rag-system/pkg/models"
)

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	User  auth.Identity `json:"user"`
	Token string        `json:"token,omitempty"`
}

type uploadRequest struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

type queryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func main() {
	// Create flagset for configuration
	fs := pflag.NewFlagSet("ragsystem-api", pflag.ExitOnError)

	// Load configuration
	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	// Set up logging
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	logger.Info().Str("provider", cfg.Provider).Str("log_level", cfg.LogLevel).Msg("starting ragsystem api")

	// Create AI client configuration
	var clientConfig *ai.ClientConfig
	switch strings.ToLower(cfg.Provider) {
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
		log.Fatalf("unsupported provider: %s", cfg.Provider)
	}

	ctx := context.Background()

	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()

	client, err := ai.NewClient(ctx, clientConfig)
	if err != nil {
		log.Fatalf("Failed to create AI client: %v", err)
	}

	// Use the AI client's dimension for database migration
	dim := client.Dim()
	logger.Info().Int("embedding_dim", dim).Str("embed_model", clientConfig.EmbedModel).Msg("AI client initialized")

	if err := st.Migrate(ctx, dim); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	authSvc, err := auth.NewService(cfg.Auth.JwtSecret, time.Duration(cfg.Auth.TokenTTLHours)*time.Hour)
	if err != nil {
		log.Fatalf("Failed to initialize auth: %v", err)
	}

	gateway := embed.NewGateway(client, embed.Options{
		BatchSize:  cfg.EmbedBatchSize,
		MaxRetries: cfg.MaxRetries,
	}, logger)

	ragSvc := rag.NewService(gateway, client, st, rag.Options{
		MinSimilarity:   cfg.MinSimilarity,
		MaxContextChars: cfg.MaxContextLen,
		TopKDefault:     cfg.TopKDefault,
		TopKMax:         cfg.TopKMax,
	}, logger)

	ch, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		log.Fatalf("Invalid chunking configuration: %v", err)
	}
	ingestSvc := ingest.NewService(st, gateway, ch, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unreachable")
			return
		}
		w.WriteHeader(200)
	})

	mux.HandleFunc("/auth/register", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.Email = strings.TrimSpace(strings.ToLower(req.Email))
		req.Username = strings.TrimSpace(req.Username)
		if req.Email == "" || req.Username == "" || len(req.Password) < 8 {
			writeError(w, http.StatusBadRequest, "email, username, and a password of at least 8 characters are required")
			return
		}

		hash, err := authSvc.HashPassword(req.Password)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to register")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if _, _, exists, err := st.GetUserByEmail(ctx, req.Email); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to register")
			return
		} else if exists {
			writeError(w, http.StatusConflict, "an account with this email already exists")
			return
		}

		user, err := st.CreateUser(ctx, req.Email, req.Username, hash)
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("create user failed")
			writeError(w, http.StatusInternalServerError, "failed to register")
			return
		}

		id := auth.Identity{UserID: user.ID, Email: user.Email, Username: user.Username}
		token, err := authSvc.GenerateJWT(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to generate token")
			return
		}
		writeJSON(w, http.StatusCreated, authResponse{User: id, Token: token})
	})

	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		user, hash, found, err := st.GetUserByEmail(ctx, strings.TrimSpace(strings.ToLower(req.Email)))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to log in")
			return
		}
		if !found || authSvc.CheckPassword(hash, req.Password) != nil {
			writeError(w, http.StatusUnauthorized, "invalid email or password")
			return
		}

		id := auth.Identity{UserID: user.ID, Email: user.Email, Username: user.Username}
		token, err := authSvc.GenerateJWT(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to generate token")
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     "auth_token",
			Value:    token,
			Path:     "/",
			MaxAge:   cfg.Auth.TokenTTLHours * 3600,
			HttpOnly: true,
			Secure:   strings.HasPrefix(r.Header.Get("X-Forwarded-Proto"), "https"),
			SameSite: http.SameSiteLaxMode,
		})
		writeJSON(w, http.StatusOK, authResponse{User: id, Token: token})
	})

	mux.HandleFunc("/auth/me", authSvc.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.GetUserFromContext(r)
		writeJSON(w, http.StatusOK, authResponse{User: id})
	}))

	mux.HandleFunc("/documents", authSvc.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.GetUserFromContext(r)

		switch r.Method {
		case http.MethodPost:
			var req uploadRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			req.Filename = strings.TrimSpace(req.Filename)
			if req.Filename == "" {
				writeError(w, http.StatusBadRequest, "filename is required")
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
			defer cancel()

			doc, err := st.CreateDocument(ctx, id.UserID, req.Filename)
			if err != nil {
				hlog.FromRequest(r).Error().Err(err).Msg("create document failed")
				writeError(w, http.StatusInternalServerError, "failed to store document")
				return
			}

			stats, err := ingestSvc.IngestText(ctx, doc.ID, req.Content)
			if err != nil {
				if errors.Is(err, ingest.ErrEmptyDocument) {
					// Roll the document record back so an empty upload
					// leaves no trace.
					_, _ = st.DeleteDocument(ctx, doc.ID, id.UserID)
					writeError(w, http.StatusBadRequest, "document contains no usable text")
					return
				}
				hlog.FromRequest(r).Error().Err(err).Str("document_id", doc.ID).Msg("ingestion failed")
				_, _ = st.DeleteDocument(ctx, doc.ID, id.UserID)
				writeError(w, http.StatusInternalServerError, "failed to process document")
				return
			}

			writeJSON(w, http.StatusCreated, map[string]any{
				"document": doc,
				"stats":    stats,
			})

		case http.MethodGet:
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()

			docs, err := st.ListDocuments(ctx, id.UserID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to list documents")
				return
			}
			if docs == nil {
				docs = []models.Document{}
			}
			writeJSON(w, http.StatusOK, docs)

		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}))

	mux.HandleFunc("/documents/", authSvc.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.GetUserFromContext(r)
		docID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/documents/"), "/")
		if docID == "" || strings.Contains(docID, "/") {
			http.NotFound(w, r)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		switch r.Method {
		case http.MethodGet:
			doc, found, err := st.GetDocument(ctx, docID, id.UserID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to fetch document")
				return
			}
			if !found {
				writeError(w, http.StatusNotFound, "document not found")
				return
			}
			writeJSON(w, http.StatusOK, doc)

		case http.MethodDelete:
			deleted, err := st.DeleteDocument(ctx, docID, id.UserID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to delete document")
				return
			}
			if !deleted {
				writeError(w, http.StatusNotFound, "document not found")
				return
			}
			w.WriteHeader(http.StatusNoContent)

		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}))

	mux.HandleFunc("/query", authSvc.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		id, _ := auth.GetUserFromContext(r)

		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		start := time.Now()
		ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
		defer cancel()

		resp, err := ragSvc.ProcessQuery(ctx, id.UserID, req.Query, req.TopK)
		if err != nil {
			switch {
			case errors.Is(err, rag.ErrEmptyQuery),
				errors.Is(err, rag.ErrQueryTooShort),
				errors.Is(err, rag.ErrQueryTooLong):
				writeError(w, http.StatusBadRequest, err.Error())
			case errors.Is(err, rag.ErrNoDocuments):
				writeError(w, http.StatusBadRequest, "No documents found. Please upload documents before querying.")
			default:
				hlog.FromRequest(r).Error().Err(err).Msg("query failed")
				writeError(w, http.StatusInternalServerError, "failed to process query")
			}
			return
		}

		hlog.FromRequest(r).Info().
			Str("path", "/query").
			Int("sources", len(resp.Sources)).
			Bool("context_used", resp.ContextUsed).
			Dur("dur", time.Since(start)).
			Msg("served")
		writeJSON(w, http.StatusOK, resp)
	}))

	mux.HandleFunc("/history", authSvc.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		id, _ := auth.GetUserFromContext(r)

		limit := 10
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				limit = n
			}
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		records, err := st.ListQueryHistory(ctx, id.UserID, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to fetch history")
			return
		}
		if records == nil {
			records = []models.QueryRecord{}
		}
		writeJSON(w, http.StatusOK, records)
	}))

	handler := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(mux),
	)

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: handler}
	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	log.Fatal(s.ListenAndServe())
}
