package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"toposdb/src/query"
	"toposdb/src/settings"
)

// printUsage prints helpful usage information
func printUsage() {
	log.Println("ToposDB - a typed knowledge-graph database")
	log.Println("\nUsage:")
	log.Println("  toposdb [options]")
	log.Println("\nOptions:")
	flag.PrintDefaults()

	log.Println("\nExamples:")
	log.Println("  toposdb --datadir=/data")
	log.Println("  toposdb --inmemory --debug")
}

func main() {
	args := settings.GetSettings()

	flag.StringVar(&args.DataDir, "datadir", "./datafiles", "Directory to store data files")
	flag.BoolVar(&args.InMemory, "inmemory", false, "Run without persisting to disk")
	flag.BoolVar(&args.Verbose, "verbose", false, "Enable verbose logging")
	flag.BoolVar(&args.Debug, "debug", false, "Enable debug mode")
	flag.DurationVar(&args.PlannerTimeLimit, "plannertimelimit", 100*time.Millisecond, "Traversal planner solve budget")
	flag.DurationVar(&args.PlannerExtendedTimeLimit, "plannerextendedtimelimit", 200*time.Millisecond, "Extended planner solve budget")
	flag.IntVar(&args.ReasoningBudget, "reasoningbudget", 64, "Maximum rule-application passes per query")
	flag.IntVar(&args.BatchSize, "batchsize", 50, "Answers fetched per batch")
	flag.BoolVar(&args.Parallel, "parallel", false, "Fan traversals out over parallel producers")

	flag.Parse()

	if err := validateArguments(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n\n", err)
		printUsage()
		os.Exit(1)
	}

	var zapLogger *zap.Logger
	var err error
	if args.Debug {
		zapLogger, err = zap.NewDevelopment()
	} else {
		zapLogger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = zapLogger.Sync() }()
	logger := zapLogger.Sugar()

	db, err := query.NewDatabase(args, logger)
	if err != nil {
		logger.Fatalw("failed to open database", "error", err)
	}
	defer func() { _ = db.Close() }()

	logger.Infow("database ready",
		"datadir", args.DataDir,
		"inmemory", args.InMemory,
		"parallel", args.Parallel)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")
}

func validateArguments(args *settings.Arguments) error {
	if !args.InMemory && args.DataDir == "" {
		return fmt.Errorf("datadir is required unless running in memory")
	}
	if args.ReasoningBudget < 1 {
		return fmt.Errorf("reasoningbudget must be at least 1")
	}
	if args.BatchSize < 1 {
		return fmt.Errorf("batchsize must be at least 1")
	}
	return nil
}
