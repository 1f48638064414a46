// docbatch processes a directory of extracted-page JSON documents through
// the tiered extraction pipeline and writes the batch summary workbook.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/time/rate"

	"docextract/internal/batch"
	"docextract/internal/checkpoint"
	"docextract/internal/common"
	"docextract/internal/document"
	"docextract/internal/fieldschema"
	"docextract/internal/model"
	"docextract/internal/model/anthropic"
	"docextract/internal/model/openai"
	"docextract/internal/pipeline"
	"docextract/internal/report"
	"docextract/internal/route"
	"docextract/internal/telemetry"
	"docextract/internal/validate"
)

func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		configPath = flag.String("config", "", "path to config YAML (or CONFIG_PATH env)")
		inputDir   = flag.String("input", "", "directory of per-page JSON documents (required)")
		schemaPath = flag.String("schema", "", "field schema YAML (overrides config)")
		outPath    = flag.String("out", "", "output XLSX path (overrides config)")
		profile    = flag.String("profile", "", "named profile: cost-optimized | quality-optimized")
	)
	flag.Parse()

	if *inputDir == "" {
		printError("Error: --input is required\n")
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *profile != "" {
		if err := cfg.ApplyProfile(*profile); err != nil {
			logger.Error("failed to apply profile", "error", err)
			os.Exit(1)
		}
	}
	if *schemaPath != "" {
		cfg.Extraction.FieldSchemaPath = *schemaPath
	}
	if *outPath != "" {
		cfg.Report.OutputPath = *outPath
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}
	if cfg.Extraction.FieldSchemaPath == "" {
		printError("Error: field schema path is required (--schema or config)\n")
		os.Exit(1)
	}

	schema, err := fieldschema.Load(cfg.Extraction.FieldSchemaPath)
	if err != nil {
		logger.Error("failed to load field schema", "error", err)
		os.Exit(1)
	}
	logger.Info("loaded field schema",
		"document_type", schema.DocumentType,
		"fields", len(schema.Fields),
		"profile", cfg.Profile,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Checkpoint is the sole source of truth for resume; corruption is the
	// one fatal error class.
	store, err := checkpoint.Open(cfg.Batch.CheckpointPath, logger)
	if err != nil {
		logger.Error("failed to open checkpoint", "error", err)
		os.Exit(2)
	}
	defer func() { _ = store.Close() }()

	// Tier adapters, each behind the shared retry/degrade wrapper.
	policy := model.Policy{
		MaxAttempts: cfg.Models.RetryMaxAttempts,
		BaseDelay:   cfg.Models.RetryBaseDelay.Std(),
		Multiplier:  cfg.Models.RetryMultiplier,
	}
	tier1 := model.NewDegrading(openai.NewClient(openai.Config{
		BaseURL:     cfg.Models.Tier1.BaseURL,
		Model:       cfg.Models.Tier1.Model,
		APIKey:      cfg.Models.Tier1.APIKey,
		Temperature: cfg.Models.Tier1.Temperature,
		Timeout:     cfg.Models.Tier1.Timeout.Std(),
	}, logger), cfg.Models.Tier1.Timeout.Std(), policy, logger)
	tier2 := model.NewDegrading(anthropic.NewClient(anthropic.Config{
		APIKey: cfg.Models.Tier2.APIKey,
		Model:  cfg.Models.Tier2.Model,
	}, logger), cfg.Models.Tier2.Timeout.Std(), policy, logger)
	tier3 := model.NewDegrading(anthropic.NewClient(anthropic.Config{
		APIKey: cfg.Models.Tier3.APIKey,
		Model:  cfg.Models.Tier3.Model,
	}, logger), cfg.Models.Tier3.Timeout.Std(), policy, logger)

	unitCosts := telemetry.UnitCosts{
		Tier1: cfg.Models.Tier1.UnitCost,
		Tier2: cfg.Models.Tier2.UnitCost,
		Tier3: cfg.Models.Tier3.UnitCost,
	}
	metrics := telemetry.NewAggregator(unitCosts)

	validator := validate.New(schema, validate.Config{
		ConfidenceThreshold: cfg.Extraction.ConfidenceThreshold,
		FinancialTolerance:  cfg.Extraction.FinancialTolerance,
	})
	router := route.New(cfg.Extraction.ConfidenceThreshold)
	limiter := rate.NewLimiter(rate.Limit(cfg.Batch.RatePerSecond), cfg.Batch.RateBurst)

	processor := pipeline.NewProcessor(
		logger, schema, tier1, tier2, tier3,
		validator, router, limiter, model.NewTierGate(), metrics,
		pipeline.Config{
			MaxChunkTokens:      cfg.Extraction.MaxChunkTokens,
			OverlapTokens:       cfg.Extraction.OverlapTokens,
			ConfidenceThreshold: cfg.Extraction.ConfidenceThreshold,
			Tier2Budget:         cfg.Escalation.Tier2Budget,
			Tier3Budget:         cfg.Escalation.Tier3Budget,
			UnitCosts:           unitCosts,
		},
	)

	// Index the input directory: document ID -> file path.
	paths, err := document.ListInputs(*inputDir)
	if err != nil {
		logger.Error("failed to list input directory", "error", err)
		os.Exit(1)
	}
	if len(paths) == 0 {
		printError("Error: no .json documents under %s\n", *inputDir)
		os.Exit(1)
	}
	byID := make(map[string]string, len(paths))
	docIDs := make([]string, 0, len(paths))
	for _, p := range paths {
		id := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		byID[id] = p
		docIDs = append(docIDs, id)
	}

	orch := batch.NewOrchestrator(logger, store, processor, metrics,
		func(docID string) (*document.SourceDocument, error) {
			path, ok := byID[docID]
			if !ok {
				return nil, fmt.Errorf("%w: unknown document %s", common.ErrDocumentUnreadable, docID)
			}
			return document.LoadFromFile(path)
		},
		cfg.Batch.Workers, cfg.Batch.MaxAttempts)

	logger.Info("starting batch",
		"documents", len(docIDs),
		"workers", cfg.Batch.Workers,
		"checkpoint", cfg.Batch.CheckpointPath,
	)
	result, err := orch.Run(ctx, docIDs)
	if err != nil {
		logger.Error("batch failed", "error", err)
		if common.IsFatal(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}

	xlsx, err := report.NewWriter(logger).Write(result)
	if err != nil {
		logger.Error("failed to render report", "error", err)
		os.Exit(1)
	}
	if err := os.WriteFile(cfg.Report.OutputPath, xlsx, 0644); err != nil {
		logger.Error("failed to write report", "error", err)
		os.Exit(1)
	}

	s := result.Summary
	fmt.Printf("Batch complete.\n")
	fmt.Printf("- Documents completed: %d\n", s.DocsCompleted)
	fmt.Printf("- Documents failed:    %d\n", s.DocsFailed)
	fmt.Printf("- Tier-1 only:         %d\n", s.DocsTier1Only)
	fmt.Printf("- Estimated cost:      $%.2f (saved $%.2f vs top tier)\n", s.EstimatedCost, s.EstimatedSaving)
	fmt.Printf("- Report:              %s\n", cfg.Report.OutputPath)
	if result.Interrupted {
		fmt.Printf("Interrupted: rerun with the same checkpoint to resume.\n")
	}
}
