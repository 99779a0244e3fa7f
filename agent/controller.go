package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/codeact/llm"
	"github.com/BaSui01/codeact/llm/tokenizer"
	"github.com/BaSui01/codeact/sandbox"
	"github.com/BaSui01/codeact/types"
)

// CodeExecutor runs one code submission against a persistent namespace.
// *sandbox.Sandbox is the production implementation.
type CodeExecutor interface {
	Execute(code string) sandbox.Result
}

// TranscriptSink persists conversation turns and code executions. Persistence
// failures are logged and never interrupt a run.
type TranscriptSink interface {
	SaveTurn(ctx context.Context, conversationID string, seq int, msg types.Message) error
	SaveExecution(ctx context.Context, conversationID string, turn, block int, code string, result sandbox.Result) error
}

// RunState is the terminal state of one Run.
type RunState string

const (
	// RunCompleted means the model produced a terminal answer.
	RunCompleted RunState = "completed"
	// RunAborted means the turn budget ran out before an answer.
	RunAborted RunState = "aborted"
)

// RunResult is the outcome of one Run.
type RunResult struct {
	State  RunState
	Answer string
	// Turns is the number of model requests issued.
	Turns int
}

// ControllerConfig configures one conversation's control loop.
type ControllerConfig struct {
	ConversationID string `json:"conversation_id"`
	SystemPrompt   string `json:"system_prompt"`
	Model          string `json:"model"`
	MaxTurns       int    `json:"max_turns"`
}

// Deps are the controller's collaborators. Provider, Executor and Workspace
// are required; Sink and Tokens are optional.
type Deps struct {
	Provider  llm.Provider
	Executor  CodeExecutor
	Workspace *Workspace
	Sink      TranscriptSink
	Tokens    tokenizer.Counter
}

// Controller drives one conversation: strictly sequential, one outstanding
// model request and at most one code execution at a time. It owns the
// conversation history; entries are append-only and never mutated.
type Controller struct {
	cfg    ControllerConfig
	deps   Deps
	logger *zap.Logger

	messages []types.Message
	turn     int
}

// NewController validates the configuration and dependencies and returns a
// controller ready for one Run.
func NewController(cfg ControllerConfig, deps Deps, logger *zap.Logger) (*Controller, error) {
	if cfg.ConversationID == "" {
		return nil, fmt.Errorf("conversation id must not be empty")
	}
	if cfg.MaxTurns <= 0 {
		return nil, fmt.Errorf("max turns must be positive, got %d", cfg.MaxTurns)
	}
	if deps.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if deps.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if deps.Workspace == nil {
		return nil, fmt.Errorf("workspace is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With(zap.String("component", "agent"), zap.String("conversation_id", cfg.ConversationID)),
	}, nil
}

// Run executes the loop for one user query until the model answers or the
// turn budget runs out. Transport errors from the provider propagate out
// unwrapped in meaning: the run is over and the caller decides what happens
// to the conversation.
func (c *Controller) Run(ctx context.Context, query string) (*RunResult, error) {
	if c.cfg.SystemPrompt != "" {
		c.append(ctx, types.NewSystemMessage(c.cfg.SystemPrompt))
	}
	c.append(ctx, types.NewUserMessage(c.decorate(query)))

	for {
		if c.turn >= c.cfg.MaxTurns {
			c.logger.Warn("turn budget exhausted", zap.Int("max_turns", c.cfg.MaxTurns))
			return &RunResult{State: RunAborted, Turns: c.turn}, nil
		}

		text, err := c.requestModel(ctx)
		if err != nil {
			return nil, err
		}
		c.turn++
		c.append(ctx, types.NewAssistantMessage(text))

		action, err := Parse(text)
		if err != nil {
			c.logger.Debug("format error", zap.Error(err))
			c.append(ctx, types.NewUserMessage(c.decorate(err.Error())))
			continue
		}

		switch act := action.(type) {
		case Answer:
			c.logger.Info("run completed", zap.Int("turns", c.turn))
			return &RunResult{State: RunCompleted, Answer: act.Text, Turns: c.turn}, nil
		case CodeBatch:
			body := c.runBatch(ctx, act)
			c.append(ctx, types.NewUserMessage(c.decorate(body)))
		}
	}
}

// Messages returns a copy of the conversation history so far.
func (c *Controller) Messages() []types.Message {
	out := make([]types.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *Controller) requestModel(ctx context.Context) (string, error) {
	if c.deps.Tokens != nil {
		prompt := 0
		for _, m := range c.messages {
			if n, err := c.deps.Tokens.CountTokens(m.Content); err == nil {
				prompt += n
			}
		}
		c.logger.Debug("requesting completion",
			zap.Int("turn", c.turn),
			zap.Int("prompt_tokens", prompt),
			zap.Int("context_window", c.deps.Tokens.MaxTokens()))
	}
	resp, err := c.deps.Provider.Completion(ctx, &llm.ChatRequest{
		Model:    c.cfg.Model,
		Messages: c.Messages(),
	})
	if err != nil {
		return "", fmt.Errorf("model request: %w", err)
	}
	return resp.AssistantText(), nil
}

// runBatch executes the blocks in order, fail-fast: the first failure stops
// the batch and only its error becomes the feedback; output accumulated from
// earlier blocks is discarded. No automatic retry; the model is the retry
// policy.
func (c *Controller) runBatch(ctx context.Context, batch CodeBatch) string {
	var parts []string
	for i, code := range batch.Blocks {
		result := c.deps.Executor.Execute(code)
		c.saveExecution(ctx, i, code, result)
		if !result.Success {
			c.logger.Debug("code block failed",
				zap.Int("block", i+1),
				zap.String("error", result.Error))
			detail := result.Error
			if result.Detail != "" && result.Detail != result.Error {
				detail += "\n" + result.Detail
			}
			return fmt.Sprintf("**ERROR**:\n%s", detail)
		}
		parts = append(parts, fmt.Sprintf("Output of Code Block %d:\n%s", i+1, result.Output))
	}
	return "Below is the output of your code:\n" + strings.Join(parts, "\n")
}

// decorate suffixes every user turn with the latest artifact path and the
// budget marker. The shape is byte-identical across the initial turn, code
// output turns and error turns so the model's conditioning stays consistent.
// The counter names the upcoming request, so the initial turn reads RUN 1 and
// the model's last opportunity reads RUN max/max.
func (c *Controller) decorate(body string) string {
	lwc := c.deps.Workspace.LastWorkingCopy()
	if lwc == "" {
		lwc = "None"
	}
	return fmt.Sprintf("%s\n\n- Last Working Copy: %s\n- RUN %d/%d", body, lwc, c.turn+1, c.cfg.MaxTurns)
}

func (c *Controller) append(ctx context.Context, msg types.Message) {
	c.messages = append(c.messages, msg)
	if c.deps.Sink == nil {
		return
	}
	if err := c.deps.Sink.SaveTurn(ctx, c.cfg.ConversationID, len(c.messages)-1, msg); err != nil {
		c.logger.Warn("failed to persist turn", zap.Error(err))
	}
}

func (c *Controller) saveExecution(ctx context.Context, block int, code string, result sandbox.Result) {
	if c.deps.Sink == nil {
		return
	}
	if err := c.deps.Sink.SaveExecution(ctx, c.cfg.ConversationID, c.turn, block, code, result); err != nil {
		c.logger.Warn("failed to persist execution", zap.Error(err))
	}
}
