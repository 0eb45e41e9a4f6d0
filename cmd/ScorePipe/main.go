package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ScorePipe/ScorePipe/internal/classifier"
	"github.com/ScorePipe/ScorePipe/internal/detection"
	"github.com/ScorePipe/ScorePipe/internal/genai"
	"github.com/ScorePipe/ScorePipe/internal/messaging"
	"github.com/ScorePipe/ScorePipe/internal/metrics"
	"github.com/ScorePipe/ScorePipe/internal/models"
	"github.com/ScorePipe/ScorePipe/internal/pipeline"
	"github.com/ScorePipe/ScorePipe/internal/rules"
	"github.com/ScorePipe/ScorePipe/internal/store"
	"github.com/ScorePipe/ScorePipe/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for ScorePipe state data
	DefaultStateDir = "/var/lib/scorepipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "scorepipe.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if *flags.policyPath == "" || *flags.inputPath == "" {
		slog.Error("Both -policy and -input are required")
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flags); err != nil {
		slog.Error("ScorePipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("ScorePipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	DbDriver  string
	DbDSN     string
	StateDir  string
	OpenAIKey string
	AMQPURL   string
	AMQPQueue string
}

// Flags holds command line flag values
type Flags struct {
	policyPath  *string
	inputPath   *string
	outputDir   *string
	dbDriver    *string
	dbDSN       *string
	openaiKey   *string
	amqpURL     *string
	amqpQueue   *string
	metricsAddr *string
	parallelism *int
	explain     *bool
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DbDriver:  os.Getenv("SCOREPIPE_DB_DRIVER"),
		DbDSN:     os.Getenv("DATABASE_URL"),
		StateDir:  os.Getenv("SCOREPIPE_STATE_DIR"),
		OpenAIKey: os.Getenv("OPENAI_API_KEY"),
		AMQPURL:   os.Getenv("AMQP_URL"),
		AMQPQueue: util.GetEnv("AMQP_QUEUE", "scorepipe.evaluations"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No SCOREPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	slog.Debug("environment variables loaded",
		"SCOREPIPE_DB_DRIVER", config.DbDriver,
		"DATABASE_URL_SET", config.DbDSN != "",
		"SCOREPIPE_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"AMQP_URL_SET", config.AMQPURL != "",
		"AMQP_QUEUE", config.AMQPQueue)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		policyPath:  flag.String("policy", "", "path to the policy JSON file"),
		inputPath:   flag.String("input", "", "path to one evaluation input JSON file, or a directory of them"),
		outputDir:   flag.String("output", "", "directory for result JSON files (default: stdout)"),
		dbDriver:    flag.String("db-driver", config.DbDriver, "evaluation store driver: sqlite3 or postgres (overrides $SCOREPIPE_DB_DRIVER)"),
		dbDSN:       flag.String("db-dsn", config.DbDSN, "evaluation store DSN (overrides $DATABASE_URL)"),
		openaiKey:   flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key for the classifier and semantic detection (overrides $OPENAI_API_KEY)"),
		amqpURL:     flag.String("amqp-url", config.AMQPURL, "AMQP broker URL for publishing evaluations (overrides $AMQP_URL)"),
		amqpQueue:   flag.String("amqp-queue", config.AMQPQueue, "AMQP queue name (overrides $AMQP_QUEUE)"),
		metricsAddr: flag.String("metrics-addr", "", "address to expose prometheus metrics on (empty: disabled)"),
		parallelism: flag.Int("parallelism", pipeline.DefaultBatchParallelism, "maximum concurrent evaluations"),
		explain:     flag.Bool("explain", true, "include the narrative explanation in each result"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"policy", *flags.policyPath,
		"input", *flags.inputPath,
		"output", *flags.outputDir,
		"dbDriver", *flags.dbDriver,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"amqpURL_set", *flags.amqpURL != "",
		"metricsAddr", *flags.metricsAddr,
		"parallelism", *flags.parallelism,
		"explain", *flags.explain)

	return flags
}

func run(ctx context.Context, flags Flags) error {
	policy, err := loadPolicy(*flags.policyPath)
	if err != nil {
		return err
	}
	inputs, err := loadInputs(*flags.inputPath, policy)
	if err != nil {
		return err
	}
	slog.Info("Bootstrapping ScorePipe", "policy", policy.Name, "inputs", len(inputs))

	orchestrator, cleanup, err := buildOrchestrator(flags)
	if err != nil {
		return err
	}
	defer cleanup()

	if *flags.metricsAddr != "" {
		metrics.Init(prometheus.DefaultRegisterer)
		go serveMetrics(*flags.metricsAddr)
	}

	results, err := orchestrator.EvaluateBatch(ctx, inputs, *flags.parallelism)
	if err != nil {
		return err
	}

	failures := 0
	for _, res := range results {
		if res.Err != nil {
			failures++
		}
		if err := writeResult(orchestrator, res, *flags.outputDir, *flags.explain); err != nil {
			return err
		}
	}
	slog.Info("Batch complete", "runs", len(results), "input_errors", failures)
	return nil
}

// buildOrchestrator assembles the engines and optional collaborators from
// the parsed flags. The returned cleanup closes whatever was opened.
func buildOrchestrator(flags Flags) (*pipeline.Orchestrator, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	detectionOpts := []detection.Option{}
	var genaiClient genai.ClientInterface
	if *flags.openaiKey != "" {
		client, err := genai.NewClient(genai.WithAPIKey(*flags.openaiKey))
		if err != nil {
			return nil, cleanup, fmt.Errorf("failed to create GenAI client: %w", err)
		}
		genaiClient = client
		detectionOpts = append(detectionOpts, detection.WithEmbedder(client))
	} else {
		slog.Warn("No OpenAI API key; semantic detection disabled, grading uses the deterministic fallback")
	}

	orchestratorOpts := []pipeline.Option{}
	switch strings.ToLower(*flags.dbDriver) {
	case "":
		// no persistence
	case "sqlite3", "sqlite":
		dsn := *flags.dbDSN
		if dsn == "" {
			dsn = filepath.Join(DefaultStateDir, DefaultDBFileName)
		}
		repo, err := store.NewSQLiteRepository(store.WithDSN(dsn))
		if err != nil {
			return nil, cleanup, err
		}
		cleanups = append(cleanups, func() { repo.Close() })
		orchestratorOpts = append(orchestratorOpts, pipeline.WithRepository(repo))
	case "postgres":
		repo, err := store.NewPostgresRepository(store.WithDSN(*flags.dbDSN))
		if err != nil {
			return nil, cleanup, err
		}
		cleanups = append(cleanups, func() { repo.Close() })
		orchestratorOpts = append(orchestratorOpts, pipeline.WithRepository(repo))
	default:
		return nil, cleanup, fmt.Errorf("unsupported db driver: %s", *flags.dbDriver)
	}

	if *flags.amqpURL != "" {
		publisher, err := messaging.NewAMQPPublisher(
			messaging.WithURL(*flags.amqpURL),
			messaging.WithQueue(*flags.amqpQueue),
		)
		if err != nil {
			return nil, cleanup, err
		}
		cleanups = append(cleanups, func() { publisher.Close() })
		orchestratorOpts = append(orchestratorOpts, pipeline.WithPublisher(publisher))
	}

	orchestrator := pipeline.NewOrchestrator(
		detection.NewEngine(detectionOpts...),
		rules.NewEngine(),
		classifier.NewAdapter(genaiClient),
		orchestratorOpts...,
	)
	return orchestrator, cleanup, nil
}

func loadPolicy(path string) (models.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Policy{}, fmt.Errorf("failed to read policy file: %w", err)
	}
	var policy models.Policy
	if err := policy.FromJSON(string(data)); err != nil {
		return models.Policy{}, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}
	if err := policy.Validate(); err != nil {
		return models.Policy{}, fmt.Errorf("invalid policy %s: %w", path, err)
	}
	return policy, nil
}

// loadInputs reads one input file or every *.json in a directory, stamping
// each input with the shared policy. Directory order is lexical so batch
// output order is stable.
func loadInputs(path string, policy models.Policy) ([]models.EvaluationInput, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat input path: %w", err)
	}

	var files []string
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read input directory: %w", err)
		}
		for _, entry := range entries {
			if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
				files = append(files, filepath.Join(path, entry.Name()))
			}
		}
		sort.Strings(files)
		if len(files) == 0 {
			return nil, fmt.Errorf("no .json input files in %s", path)
		}
	} else {
		files = []string{path}
	}

	inputs := make([]models.EvaluationInput, 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read input file %s: %w", file, err)
		}
		var input models.EvaluationInput
		if err := json.Unmarshal(data, &input); err != nil {
			return nil, fmt.Errorf("failed to parse input file %s: %w", file, err)
		}
		input.Policy = policy
		if input.EvaluationID == "" {
			input.EvaluationID = strings.TrimSuffix(filepath.Base(file), ".json")
		}
		inputs = append(inputs, input)
	}
	return inputs, nil
}

// resultEnvelope is the per-run output document.
type resultEnvelope struct {
	Evaluation  models.FinalEvaluation `json:"evaluation"`
	Explanation any                    `json:"explanation,omitempty"`
	InputError  string                 `json:"input_error,omitempty"`
}

func writeResult(orchestrator *pipeline.Orchestrator, res pipeline.BatchResult, outputDir string, withExplanation bool) error {
	envelope := resultEnvelope{Evaluation: res.Final}
	if res.Err != nil {
		envelope.InputError = res.Err.Error()
	} else if withExplanation {
		envelope.Explanation = orchestrator.Explain(res.Final)
	}

	data, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize result %s: %w", res.Final.EvaluationID, err)
	}

	if outputDir == "" {
		fmt.Println(string(data))
		return nil
	}
	if err := os.MkdirAll(outputDir, store.DefaultDirPermissions); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(outputDir, res.Final.EvaluationID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write result file %s: %w", path, err)
	}
	slog.Debug("Result written", "evaluation", res.Final.EvaluationID, "path", path)
	return nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	slog.Info("Serving prometheus metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("Metrics server stopped", "error", err)
	}
}
