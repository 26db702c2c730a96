package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"antshell/internal/agent"
	"antshell/internal/config"
	"antshell/internal/credentials"
	"antshell/internal/gemini"
	"antshell/internal/ledger"
	"antshell/internal/llm"
	mockclient "antshell/internal/llm/mockclient"
	"antshell/internal/logging"
	"antshell/internal/openrouter"
	"antshell/internal/prompts"
	"antshell/internal/state"
	"antshell/internal/terminal"
	"antshell/internal/turn"
)

// Version is set via -ldflags during build
var Version = "dev"

func main() {
	var (
		resumeKey    = flag.String("resume", "", "Resume an existing conversation key")
		listSessions = flag.Bool("list-sessions", false, "List stored conversations and exit")
		promptFlag   = flag.String("p", "", "Submit a single query, print the proposal and exit (commands are not executed)")
		setupFlag    = flag.Bool("setup", false, "Run credential setup wizard")
		versionFlag  = flag.Bool("version", false, "Print version and exit")
	)
	flag.StringVar(promptFlag, "prompt", "", "Submit a single query, print the proposal and exit (commands are not executed)")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("antshell version %s\n", Version)
		return
	}

	credManager, err := credentials.NewManager()
	if err != nil {
		log.Fatalf("Failed to initialize credential manager: %v", err)
	}
	if *setupFlag {
		if err := credentials.SetupMenu(credManager); err != nil {
			log.Fatalf("Setup failed: %v", err)
		}
		return
	}

	mockMode := os.Getenv("ANTSHELL_MOCK_LLM") == "1"
	creds, err := credManager.Load()
	if err != nil {
		log.Fatalf("Failed to load credentials: %v", err)
	}
	if !mockMode && !creds.HasAnyProvider() {
		if creds, err = credentials.Onboard(credManager); err != nil {
			log.Fatalf("Setup failed: %v", err)
		}
	}
	if creds.HasAnyProvider() {
		if err := config.EnsureDefaultConfig(creds.DefaultProvider); err != nil {
			log.Fatalf("Failed to ensure default config: %v", err)
		}
	}

	cfg, err := config.LoadUserConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logFile, err := logging.OpenFile(logging.FileOptions{
		Path:       cfg.LogPath,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer logFile.Close()
	logging.SetOutput(logFile)
	logger := logging.Logger
	structured := logging.NewStructuredLogger(logger, "antshell", cfg.LogJSON)

	states, err := state.NewManager(cfg.ConversationDir, logger)
	if err != nil {
		log.Fatalf("Failed to init state manager: %v", err)
	}
	if *listSessions {
		printSessionList(states.Summaries())
		return
	}

	client, err := buildClient(cfg, creds, mockMode, logger)
	if err != nil {
		log.Fatalf("Failed to init model provider: %v", err)
	}

	store, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		log.Fatalf("Failed to open ledger: %v", err)
	}
	defer store.Close()

	terms := terminal.NewRegistry(terminal.RegistryOptions{
		SnapshotLines:  cfg.SnapshotLines,
		CommandTimeout: cfg.ShellTimeout(),
	})
	defer terms.Close()

	hub := turn.NewHub(turn.Config{
		Composer: prompts.New(prompts.Options{Persona: cfg.Persona}),
		Model: llm.PromptClient{
			Client:      client,
			Temperature: cfg.Temperature,
			Timeout:     cfg.RequestTimeout(),
		},
		Terminal:         terms,
		Ledger:           store,
		Logger:           structured.WithComponent("turn"),
		HistoryLimit:     cfg.HistoryLimit,
		MaxContinuations: cfg.MaxContinuations,
	})

	agentInstance, err := agent.New(agent.Options{
		Config:    cfg,
		States:    states,
		Hub:       hub,
		Terminals: terms,
		Connect:   connector(cfg, creds),
		Ledger:    store,
		Providers: client,
		Logger:    structured.WithComponent("agent"),
		ResumeKey: strings.TrimSpace(*resumeKey),
	})
	if err != nil {
		log.Fatalf("Failed to init agent: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *promptFlag != "" {
		if err := agentInstance.RunOneShot(ctx, *promptFlag); err != nil {
			log.Fatalf("Prompt failed: %v", err)
		}
		return
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Println("Received shutdown signal, gracefully stopping...")
		cancel()
	}()

	if err := agentInstance.Run(ctx); err != nil {
		log.Fatalf("Console failed: %v", err)
	}
}

// buildClient registers every configured provider behind one switcher.
func buildClient(cfg config.Config, creds *credentials.Credentials, mockMode bool, logger *log.Logger) (*llm.Switcher, error) {
	if mockMode || strings.EqualFold(cfg.Provider, "mock") {
		logger.Println("mock provider selected; using mock LLM client")
		return llm.NewSwitcher("mock", []llm.ProviderRegistration{{
			Option: llm.ProviderOption{Key: "mock", Label: "Mock", Model: cfg.ModelFor("mock")},
			Client: mockclient.New(),
		}})
	}

	active := strings.ToLower(cfg.Provider)
	if def := strings.ToLower(creds.DefaultProvider); def != "" && !creds.IsConfigured(active) {
		active = def
	}

	var regs []llm.ProviderRegistration
	for _, key := range creds.ListProviders() {
		apiKey := creds.GetAPIKey(key)
		if apiKey == "" {
			continue
		}
		var (
			client llm.Client
			label  string
		)
		switch key {
		case "openrouter":
			label = "OpenRouter"
			client = openrouter.NewClient(cfg.BaseURL, apiKey, cfg.RequestTimeout(), logger)
		case "gemini":
			label = "Gemini"
			gc, err := gemini.NewClient(context.Background(), gemini.Options{APIKey: apiKey, Logger: logger})
			if err != nil {
				if key == active {
					return nil, err
				}
				logger.Printf("Warning: %s provider init failed: %v", key, err)
				continue
			}
			client = gc
		default:
			logger.Printf("Warning: unknown provider %q in credentials; skipping", key)
			continue
		}
		regs = append(regs, llm.ProviderRegistration{
			Option: llm.ProviderOption{Key: key, Label: label, Model: cfg.ModelFor(key)},
			Client: client,
		})
	}
	if len(regs) == 0 {
		return nil, fmt.Errorf("no providers configured; run: antshell -setup")
	}
	return llm.NewSwitcher(active, regs)
}

// connector opens the configured terminal for a conversation.
func connector(cfg config.Config, creds *credentials.Credentials) agent.Connector {
	return func(ctx context.Context, sessionID string) (terminal.Runner, error) {
		switch cfg.Backend {
		case "ssh":
			runner, err := terminal.DialSSH(ctx, terminal.SSHConfig{
				Host:                  cfg.SSH.Host,
				Port:                  cfg.SSH.Port,
				User:                  cfg.SSH.User,
				Password:              creds.GetHostPassword(cfg.SSH.User, cfg.SSH.Host),
				KeyPath:               expandHome(cfg.SSH.KeyPath),
				KnownHosts:            expandHome(cfg.SSH.KnownHosts),
				InsecureIgnoreHostKey: cfg.SSH.InsecureIgnoreHostKey,
				DialTimeout:           15 * time.Second,
			})
			if err != nil {
				return nil, err
			}
			return runner, nil
		default:
			return terminal.NewLocalRunner(expandHome(cfg.WorkDir)), nil
		}
	}
}

func expandHome(path string) string {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return path
}

func printSessionList(summaries []state.Summary) {
	if len(summaries) == 0 {
		fmt.Println("No stored conversations yet.")
		return
	}
	fmt.Printf("Stored conversations (%d):\n", len(summaries))
	for i, s := range summaries {
		fmt.Printf("  %d) %s  (%d messages, updated %s)\n", i+1, s.Key, s.MessageCount, s.UpdatedAt.Format(time.RFC822))
	}
}
