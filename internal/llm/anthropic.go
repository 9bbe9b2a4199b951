package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"

	"github.com/undercity/undercity/pkg/models"
)

// ErrHalted is returned by a stream whose pre-tool-use hook halted it.
var ErrHalted = errors.New("stream halted by hook")

// Model names per tier.
var tierModels = map[models.Tier]anthropic.Model{
	models.TierCheap:  anthropic.ModelClaude3_5Haiku20241022,
	models.TierMid:    anthropic.ModelClaudeSonnet4_20250514,
	models.TierStrong: anthropic.ModelClaudeOpus4_1_20250805,
}

// ModelForTier returns the model name used for a tier. Local-tools has
// no model and returns the empty string.
func ModelForTier(tier models.Tier) string {
	return string(tierModels[tier])
}

// AnthropicClient implements Client against the Anthropic API.
type AnthropicClient struct {
	inner        anthropic.Client
	defaultModel anthropic.Model
	maxTurns     int

	// sessions holds per-conversation message history so a retry can
	// resume where the previous attempt left off.
	mu       sync.Mutex
	sessions map[string][]anthropic.MessageParam
}

var _ Client = (*AnthropicClient)(nil)

// AnthropicConfig configures an AnthropicClient.
type AnthropicConfig struct {
	// APIKey falls back to ANTHROPIC_API_KEY when empty.
	APIKey string
	// DefaultModel is used when a request names no model.
	DefaultModel string
	// MaxTurns caps API round trips per request (default 50).
	MaxTurns int
}

// NewAnthropicClient creates the production model client.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is not set")
	}

	model := anthropic.Model(cfg.DefaultModel)
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 50
	}

	return &AnthropicClient{
		inner:        anthropic.NewClient(option.WithAPIKey(apiKey)),
		defaultModel: model,
		maxTurns:     maxTurns,
		sessions:     make(map[string][]anthropic.MessageParam),
	}, nil
}

// history returns a copy of the saved conversation, or nil.
func (c *AnthropicClient) history(convID string) []anthropic.MessageParam {
	c.mu.Lock()
	defer c.mu.Unlock()
	saved := c.sessions[convID]
	if len(saved) == 0 {
		return nil
	}
	out := make([]anthropic.MessageParam, len(saved))
	copy(out, saved)
	return out
}

func (c *AnthropicClient) saveSession(convID string, messages []anthropic.MessageParam) {
	c.mu.Lock()
	c.sessions[convID] = messages
	c.mu.Unlock()
}

// Query starts the agent loop in a goroutine and returns its stream.
func (c *AnthropicClient) Query(ctx context.Context, req Request) (*Stream, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("empty prompt")
	}

	model := anthropic.Model(req.Model)
	if model == "" {
		model = c.defaultModel
	}
	maxTurns := req.MaxTurns
	if maxTurns <= 0 {
		maxTurns = c.maxTurns
	}

	convID := req.Resume
	if convID == "" {
		convID = uuid.NewString()
	}

	events := make(chan Event, 64)
	loop := &agentLoop{
		client:   c,
		model:    model,
		maxTurns: maxTurns,
		req:      req,
		convID:   convID,
		history:  c.history(req.Resume),
		executor: newToolExecutor(req.WorkDir, req.Hooks),
		events:   events,
	}
	go loop.run(ctx)

	return NewStream(events, loop.usage, loop.err, loop.conversation), nil
}

// agentLoop drives one request's call-and-tool cycle.
type agentLoop struct {
	client   *AnthropicClient
	model    anthropic.Model
	maxTurns int
	req      Request
	convID   string
	history  []anthropic.MessageParam
	executor *toolExecutor
	events   chan Event

	mu       sync.Mutex
	tokens   Usage
	finalErr error
}

func (l *agentLoop) conversation() string { return l.convID }

func (l *agentLoop) usage() Usage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tokens
}

func (l *agentLoop) err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.finalErr
}

func (l *agentLoop) fail(err error) {
	l.mu.Lock()
	l.finalErr = err
	l.mu.Unlock()
	l.events <- Event{Kind: EventError, Err: err}
}

func (l *agentLoop) run(ctx context.Context) {
	defer close(l.events)

	if l.req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.req.Timeout)
		defer cancel()
	}

	messages := append(l.history,
		anthropic.NewUserMessage(anthropic.NewTextBlock(l.req.Prompt)))
	tools := toolDefinitions(l.req.Toolset)
	// Save whatever the conversation reached, even on failure, so a
	// retry resumes the exploration instead of starting over.
	defer func() { l.client.saveSession(l.convID, messages) }()

	var finalText string
	for turn := 0; turn < l.maxTurns; turn++ {
		if ctx.Err() != nil {
			l.fail(ctx.Err())
			return
		}

		params := anthropic.MessageNewParams{
			Model:     l.model,
			MaxTokens: 8192,
			Messages:  messages,
			Tools:     tools,
		}
		if l.req.System != "" {
			params.System = []anthropic.TextBlockParam{{Text: l.req.System}}
		}

		resp, err := l.client.inner.Messages.New(ctx, params)
		if err != nil {
			l.fail(fmt.Errorf("api call: %w", err))
			return
		}

		l.mu.Lock()
		l.tokens.InputTokens += resp.Usage.InputTokens
		l.tokens.OutputTokens += resp.Usage.OutputTokens
		l.tokens.Calls++
		l.mu.Unlock()

		var assistantBlocks []anthropic.ContentBlockParamUnion
		var toolResultBlocks []anthropic.ContentBlockParamUnion
		var turnText string

		for _, block := range resp.Content {
			switch variant := block.AsAny().(type) {
			case anthropic.TextBlock:
				turnText += variant.Text
				if l.req.Hooks.OnAssistantText != nil {
					l.req.Hooks.OnAssistantText(variant.Text)
				}
				l.events <- Event{Kind: EventAssistantText, Text: variant.Text}
				assistantBlocks = append(assistantBlocks, anthropic.NewTextBlock(variant.Text))

			case anthropic.ToolUseBlock:
				l.events <- Event{Kind: EventToolUse, Tool: variant.Name, Input: variant.Input}
				assistantBlocks = append(assistantBlocks,
					anthropic.NewToolUseBlock(variant.ID, variant.Input, variant.Name))

				out, halted := l.runTool(ctx, variant.Name, variant.Input)
				if halted {
					return
				}
				l.events <- Event{
					Kind: EventToolResult, Tool: variant.Name,
					Output: out.Content, IsError: out.IsError,
				}
				toolResultBlocks = append(toolResultBlocks,
					anthropic.NewToolResultBlock(variant.ID, out.Content, out.IsError))
			}
		}

		messages = append(messages, anthropic.NewAssistantMessage(assistantBlocks...))
		if resp.StopReason == anthropic.StopReasonEndTurn {
			finalText = turnText
			l.events <- Event{Kind: EventResult, Text: finalText}
			return
		}
		if len(toolResultBlocks) > 0 {
			messages = append(messages, anthropic.NewUserMessage(toolResultBlocks...))
		}
	}

	l.fail(fmt.Errorf("max turns (%d) reached", l.maxTurns))
}

// runTool applies the pre-tool-use hook, then executes. The second
// return value reports a halt: the loop stops without a result event.
func (l *agentLoop) runTool(ctx context.Context, name string, input []byte) (toolOutput, bool) {
	if l.req.Hooks.PreToolUse != nil {
		decision := l.req.Hooks.PreToolUse(ToolCall{Name: name, Input: input})
		switch decision.Kind {
		case StopDeny:
			return toolOutput{Content: decision.Reason, IsError: true}, false
		case StopHalt:
			l.fail(fmt.Errorf("%w: %s", ErrHalted, decision.Reason))
			return toolOutput{}, true
		}
	}
	return l.executor.execute(ctx, name, input), false
}
