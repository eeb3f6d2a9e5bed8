package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"codequiz/internal/config"
	"codequiz/internal/github"
	"codequiz/internal/grading"
	"codequiz/internal/handler"
	"codequiz/internal/ingest"
	"codequiz/internal/llm"
	"codequiz/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "codequiz",
		Short: "Generate and grade code comprehension questions about a repository",
	}

	serve := serveCmd()
	root.AddCommand(serve, ingestCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP ingestion and grading server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "codequiz.db", "SQLite database path")
	f.String("github-token", "", "GitHub token for private archives (or set CODEQUIZ_GITHUB_TOKEN)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func ingestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <repo-url>",
		Short: "Ingest one repository and print the generated questions",
		Args:  cobra.ExactArgs(1),
		RunE:  runIngest,
	}
	f := cmd.Flags()
	f.String("db", "codequiz.db", "SQLite database path")
	f.String("commit", "", "Commit sha to ingest (default branch head when empty)")
	f.String("github-token", "", "GitHub token for private archives (or set CODEQUIZ_GITHUB_TOKEN)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func setupLogging(v *viper.Viper) {
	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper
// instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	_ = godotenv.Load()

	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("CODEQUIZ")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("codequiz")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/codequiz")
	v.AddConfigPath("/etc/codequiz")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// buildServices wires the store, GitHub client, LLM service, and pipeline
// from configuration.
func buildServices(v *viper.Viper) (*store.Store, *ingest.Service, *llm.Service, config.Config, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, nil, nil, config.Config{}, err
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return nil, nil, nil, config.Config{}, fmt.Errorf("open database: %w", err)
	}

	apiKey := llm.APIKey(cfg.LLM.Provider)
	var caller llm.Caller
	if apiKey != "" {
		caller = llm.NewClient(cfg.LLM, apiKey)
	} else {
		slog.Warn("LLM API key missing, all LLM operations will use fallbacks",
			"provider", cfg.LLM.Provider)
	}
	svc := llm.NewService(caller, cfg, apiKey)

	gh := github.NewClient(cfg.GitHub, v.GetString("github-token"))
	ing := ingest.NewService(gh, db, svc, cfg)

	return db, ing, svc, cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	db, ing, svc, cfg, err := buildServices(v)
	if err != nil {
		return err
	}
	defer db.Close()

	runner := grading.NewRunner(db, svc,
		cfg.Workers.Count, cfg.Workers.QueueSize, cfg.Workers.GradeSpacing())
	defer runner.Close()

	h := handler.New(db, ing, runner)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"provider", cfg.LLM.Provider,
		"model", cfg.LLM.Model,
		"question_count", cfg.QuestionCount,
		"workers", cfg.Workers.Count,
	)
	return http.ListenAndServe(addr, r)
}

func runIngest(cmd *cobra.Command, args []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	db, ing, _, _, err := buildServices(v)
	if err != nil {
		return err
	}
	defer db.Close()

	result, err := ing.Ingest(context.Background(), args[0], v.GetString("commit"))
	if err != nil {
		return fmt.Errorf("ingest %s: %w", args[0], err)
	}

	out := map[string]any{
		"submission_id": result.SubmissionID,
		"commit_sha":    result.CommitSHA,
		"questions":     result.Questions,
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
