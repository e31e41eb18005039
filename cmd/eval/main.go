// Command eval runs a labeled question set against a lawkb engine and
// prints the aggregate report as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/junyiz/lawkb"
	"github.com/junyiz/lawkb/eval"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (JSON)")
	datasetPath := flag.String("dataset", "", "Path to dataset JSON (default: built-in seed dataset)")
	seed := flag.Bool("seed", true, "Seed the knowledge base before evaluating")
	verbose := flag.Bool("verbose", false, "Include per-test results in the output")
	timeout := flag.Duration("timeout", 10*time.Minute, "Overall evaluation timeout")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})))

	cfg := lawkb.DefaultConfig()
	if *configPath != "" {
		f, err := os.Open(*configPath)
		if err != nil {
			fatal("opening config: %v", err)
		}
		if err := json.NewDecoder(f).Decode(&cfg); err != nil {
			f.Close()
			fatal("parsing config: %v", err)
		}
		f.Close()
	}
	if v := os.Getenv("LAWKB_DB_PATH"); v != "" {
		cfg.DBPath = v
	}

	dataset := eval.SeedDataset()
	if *datasetPath != "" {
		d, err := eval.LoadDataset(*datasetPath)
		if err != nil {
			fatal("%v", err)
		}
		dataset = *d
	}

	engine, err := lawkb.New(cfg)
	if err != nil {
		fatal("creating engine: %v", err)
	}
	defer engine.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *seed {
		if err := engine.Store().Seed(ctx); err != nil {
			fatal("seeding: %v", err)
		}
		if err := engine.Indexer().Sync(ctx); err != nil {
			fatal("indexing seed entries: %v", err)
		}
	}

	report, err := eval.New(engine).Run(ctx, dataset)
	if err != nil {
		fatal("evaluation: %v", err)
	}
	if !*verbose {
		report.Results = nil
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		fatal("encoding report: %v", err)
	}
	fmt.Println(string(out))

	if report.Failures > 0 {
		os.Exit(1)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
