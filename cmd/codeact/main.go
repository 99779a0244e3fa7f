// Command codeact runs a code-acting agent: it sends the conversation to a
// model backend, executes the code the model writes inside a capability
// sandbox, and feeds the output back until the model answers.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/codeact/agent"
	"github.com/BaSui01/codeact/config"
	"github.com/BaSui01/codeact/llm"
	"github.com/BaSui01/codeact/llm/providers/openaicompat"
	"github.com/BaSui01/codeact/llm/tokenizer"
	"github.com/BaSui01/codeact/sandbox"
	"github.com/BaSui01/codeact/store"
)

var version = "dev"

func main() {
	// The worker entry point must run before anything else: the parent speaks
	// JSON over our stdin/stdout and any other output would corrupt it.
	if len(os.Args) > 1 && os.Args[1] == "sandbox-worker" {
		if err := sandbox.RunWorker(os.Stdin, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version":
			fmt.Println("codeact " + version)
			return
		case "help", "-h", "--help":
			usage()
			return
		}
	}

	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`codeact - a code-acting agent

Usage:
  codeact [flags]          read a query from stdin and run it
  codeact version          print the version
  codeact help             print this help

Flags:
  -config path             YAML configuration file (default codeact.yaml)
  -query text              run a single query instead of reading stdin

Configuration can also be supplied via CODEACT_* environment variables.`)
}

func run(args []string) error {
	fs := flag.NewFlagSet("codeact", flag.ExitOnError)
	configPath := fs.String("config", "codeact.yaml", "path to the YAML configuration file")
	query := fs.String("query", "", "query to run; reads stdin when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.NewLoader().WithConfigPath(*configPath).Load()
	if err != nil {
		return err
	}

	logger, err := cfg.Log.Build()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	q := *query
	if q == "" {
		q, err = readQuery()
		if err != nil {
			return err
		}
	}
	if strings.TrimSpace(q) == "" {
		return fmt.Errorf("empty query")
	}

	result, err := runQuery(ctx, cfg, logger, q)
	if err != nil {
		return err
	}

	switch result.State {
	case agent.RunCompleted:
		fmt.Println(result.Answer)
	case agent.RunAborted:
		fmt.Printf("no answer within %d turns\n", result.Turns)
	}
	return nil
}

func runQuery(ctx context.Context, cfg *config.Config, logger *zap.Logger, query string) (*agent.RunResult, error) {
	conversationID := uuid.NewString()

	systemPrompt, err := cfg.Agent.ResolveSystemPrompt()
	if err != nil {
		return nil, err
	}

	var provider llm.Provider = openaicompat.New(openaicompat.Config{
		ProviderName: cfg.LLM.ProviderName,
		APIKey:       cfg.LLM.APIKey,
		BaseURL:      cfg.LLM.BaseURL,
		DefaultModel: cfg.Agent.Model,
		Timeout:      cfg.LLM.Timeout,
	}, logger)
	provider = llm.NewRateLimited(provider, cfg.LLM.RequestsPerSecond, cfg.LLM.Burst)

	sb, err := sandbox.New(sandbox.Config{
		AllowedImports: cfg.Sandbox.AllowedImports,
		AllowedRoots:   cfg.Sandbox.AllowedRoots,
		AllowedModes:   cfg.Sandbox.AllowedModes,
		Timeout:        cfg.Sandbox.Timeout,
		MaxOutputChars: cfg.Sandbox.MaxOutputChars,
		Isolate:        cfg.Sandbox.Isolate,
		MaxStateBytes:  cfg.Sandbox.MaxStateBytes,
	}, logger)
	if err != nil {
		return nil, err
	}

	workspace, err := agent.NewWorkspace(cfg.Workspace.Root, conversationID)
	if err != nil {
		return nil, err
	}

	deps := agent.Deps{
		Provider:  provider,
		Executor:  sb,
		Workspace: workspace,
		Tokens:    tokenizer.ForModel(cfg.Agent.Model),
	}

	if cfg.Store.Enabled {
		st, err := store.Open(cfg.Store.Path, logger)
		if err != nil {
			return nil, err
		}
		defer st.Close()
		if err := st.EnsureSession(ctx, conversationID, cfg.Agent.Model); err != nil {
			return nil, err
		}
		deps.Sink = st
	}

	controller, err := agent.NewController(agent.ControllerConfig{
		ConversationID: conversationID,
		SystemPrompt:   systemPrompt,
		Model:          cfg.Agent.Model,
		MaxTurns:       cfg.Agent.MaxTurns,
	}, deps, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("starting run",
		zap.String("conversation_id", conversationID),
		zap.String("model", cfg.Agent.Model),
		zap.String("workspace", workspace.Dir()))

	return controller.Run(ctx, query)
}

// readQuery reads a multi-line query from stdin until EOF.
func readQuery() (string, error) {
	fmt.Fprintln(os.Stderr, "Enter your query (Ctrl+D to submit):")
	var sb strings.Builder
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		sb.WriteString(scanner.Text())
		sb.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
