package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/arjun/sherpa/internal/agent"
	"github.com/arjun/sherpa/internal/device/browser"
	"github.com/arjun/sherpa/internal/governance"
	"github.com/arjun/sherpa/internal/observability"
	"github.com/arjun/sherpa/internal/oracle"
	"github.com/arjun/sherpa/internal/store"
	"github.com/arjun/sherpa/pkg/config"
)

func main() {
	configPath := flag.String("config", "config.json", "path to config file")
	promptDir := flag.String("prompts", "./prompts", "prompt override directory")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: sherpa [-config config.json] \"<goal>\"")
		os.Exit(2)
	}
	goal := flag.Arg(0)

	dashboard := observability.NewDashboard()
	dashboard.PrintBanner()
	dashboard.InitializeTerminal()

	// Route all log output through the terminal mutex so it never
	// interrupts the dashboard's cursor save/restore sequence.
	log.SetOutput(observability.NewTermWriter())

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := observability.NewLogger(os.Stdout, cfg.App.LogPath)

	// Initialize LLM (using default enabled provider)
	pName, pCfg := cfg.GetDefaultProvider()
	if pName == "" {
		log.Fatal("No enabled provider found in config")
	}

	var llm llms.Model
	switch pName {
	case "openai", "openrouter":
		opts := []openai.Option{
			openai.WithToken(pCfg.APIKey),
			openai.WithModel(pCfg.Model),
		}
		if pCfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(pCfg.BaseURL))
		}
		llm, err = openai.New(opts...)
	default:
		log.Fatalf("Provider %s not yet implemented in main", pName)
	}
	if err != nil {
		log.Fatal(err)
	}
	chat := oracle.NewChat(llm, time.Duration(cfg.Agent.OracleTimeoutS)*time.Second)

	recordStore, err := store.NewTrajectoryStore(cfg.Memory.Path, cfg.Memory.EvidenceDir)
	if err != nil {
		log.Fatal(err)
	}
	defer recordStore.Close()

	var policy governance.PolicyEngine
	if cfg.Policy.Path != "" {
		engine, err := governance.LoadPolicyEngine(cfg.Policy.Path)
		if err != nil {
			log.Fatalf("load policy rules: %v", err)
		}
		policy = engine
	} else {
		// Default safety rules: never type anything that looks like a secret.
		engine := governance.NewDefaultPolicyEngine()
		_ = engine.DenyText(`(?i)password`)
		_ = engine.DenyText(`(?i)secret`)
		policy = engine
	}

	if cfg.Device.Kind != "browser" {
		log.Fatalf("Device kind %s not yet implemented in main", cfg.Device.Kind)
	}
	dev := browser.New(cfg.Device.StartURL, cfg.Device.Headless)
	defer dev.Close()

	prompts := agent.NewPromptManager(*promptDir)

	planner := agent.NewPlanner(chat, prompts, logger)
	planner.SnapshotBudget = cfg.Agent.SnapshotCharBudget
	planner.MaxAttempts = cfg.Agent.MaxAttempts

	executor := agent.NewStepExecutor(chat, dev, prompts, logger)
	executor.SnapshotBudget = cfg.Agent.SnapshotCharBudget
	executor.ActionTimeout = time.Duration(cfg.Agent.ActionTimeoutS) * time.Second
	executor.Policy = policy

	orch := &agent.Orchestrator{
		Planner:   planner,
		Executor:  executor,
		Snapshots: dev,
		Sink:      recordStore,
		Evidence:  recordStore,
		Logger:    logger,
		Progress:  dashboard.Update,
		Options: agent.Options{
			MaxSteps:           cfg.Agent.MaxSteps,
			MaxStepsPerSubgoal: cfg.Agent.MaxStepsPerSubgoal,
			HistoryWindow:      cfg.Agent.HistoryWindow,
			StepDelay:          time.Duration(cfg.Agent.StepDelayMs) * time.Millisecond,
			EvaluateEvery:      cfg.Agent.EvaluateEvery,
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Live status line (1-second updates)
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				dashboard.PrintLiveStatus()
			}
		}
	}()

	result := orch.Run(ctx, goal)

	dashboard.CleanupTerminal()

	if result.Success {
		fmt.Printf("OK: %s (%d steps, %v)\n", result.Message, result.TotalSteps, result.Elapsed.Round(time.Millisecond))
	} else {
		fmt.Printf("FAILED: %s (%d steps, %v)\n", result.Message, result.TotalSteps, result.Elapsed.Round(time.Millisecond))
	}
	for _, line := range result.StepResults {
		fmt.Println("  " + line)
	}
	if result.Err != nil {
		fmt.Printf("error: %v\n", result.Err)
		os.Exit(1)
	}
	if !result.Success {
		os.Exit(1)
	}
}
