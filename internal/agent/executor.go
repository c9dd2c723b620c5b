package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/errgroup"

	"github.com/triagestack/triage-engine/internal/config"
	"github.com/triagestack/triage-engine/internal/metrics"
	"github.com/triagestack/triage-engine/internal/models"
	"github.com/triagestack/triage-engine/internal/utils"
)

// ModelClient abstracts the model API so the executor can be tested against
// a scripted fake.
type ModelClient interface {
	CreateMessage(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error)
}

// AnthropicClient is the production ModelClient backed by the Anthropic API.
type AnthropicClient struct {
	client *anthropic.Client
}

// NewAnthropicClient builds the production model client.
func NewAnthropicClient(apiKey string) *AnthropicClient {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicClient{client: &client}
}

func (c *AnthropicClient) CreateMessage(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	return c.client.Messages.New(ctx, params)
}

// Outcome is the terminal result of one reasoning run.
type Outcome struct {
	Resolution  string
	Confidence  float64
	Transcript  []models.TranscriptEntry
	Aborted     bool
	AbortReason string
}

// Executor drives the bounded tool-use loop: model turn, concurrent tool
// execution, repeat. The turn cap is a hard bound; hitting it aborts the run
// with the transcript preserved.
type Executor struct {
	logger    *slog.Logger
	model     ModelClient
	modelName string
	maxTurns  int
	maxTokens int64
	timeout   time.Duration
}

// NewExecutor builds an executor from the agent configuration.
func NewExecutor(logger *slog.Logger, model ModelClient, cfg config.AgentConfig) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 5
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Executor{
		logger:    logger,
		model:     model,
		modelName: cfg.Model,
		maxTurns:  maxTurns,
		maxTokens: maxTokens,
		timeout:   cfg.Timeout,
	}
}

// Run executes the reasoning loop for one prompt. The returned error is
// non-nil only for model-service failures; turn-cap exhaustion is reported
// through the Outcome, and tool errors are fed back to the model as error
// results rather than terminating the loop.
func (e *Executor) Run(ctx context.Context, systemPrompt, userPrompt string, tools *Toolset) (Outcome, error) {
	history := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
	}
	var transcript []models.TranscriptEntry

	for turn := 1; turn <= e.maxTurns; turn++ {
		response, err := e.createMessage(ctx, systemPrompt, history, tools)
		if err != nil {
			metrics.ObserveAgentTurns(turn)
			return Outcome{
				Transcript:  transcript,
				Aborted:     true,
				AbortReason: fmt.Sprintf("model call failed on turn %d: %v", turn, err),
			}, fmt.Errorf("%w: %v", utils.ErrModelService, err)
		}

		modelText := extractText(response)
		transcript = append(transcript, models.TranscriptEntry{
			Turn:     turn,
			Role:     "model",
			Content:  modelText,
			Occurred: time.Now().UTC(),
		})

		if response.StopReason != "tool_use" {
			metrics.ObserveAgentTurns(turn)
			return Outcome{
				Resolution: modelText,
				Confidence: parseConfidence(modelText),
				Transcript: transcript,
			}, nil
		}

		history = append(history, response.ToParam())

		results, entries := e.executeTools(ctx, turn, response, tools)
		transcript = append(transcript, entries...)
		history = append(history, anthropic.NewUserMessage(results...))
	}

	metrics.ObserveAgentTurns(e.maxTurns)
	return Outcome{
		Transcript:  transcript,
		Aborted:     true,
		AbortReason: fmt.Sprintf("turn limit (%d) reached without a final answer", e.maxTurns),
	}, nil
}

func (e *Executor) createMessage(ctx context.Context, systemPrompt string, history []anthropic.MessageParam, tools *Toolset) (*anthropic.Message, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(e.modelName),
		MaxTokens: e.maxTokens,
		Messages:  history,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
	}
	if tools != nil {
		params.Tools = tools.Definitions()
	}
	return e.model.CreateMessage(ctx, params)
}

// executeTools runs all tool calls of one model turn concurrently and
// returns the result blocks in the order the model requested them.
func (e *Executor) executeTools(ctx context.Context, turn int, response *anthropic.Message, tools *Toolset) ([]anthropic.ContentBlockParamUnion, []models.TranscriptEntry) {
	type call struct {
		id    string
		name  string
		input json.RawMessage
	}
	var calls []call
	for _, block := range response.Content {
		if toolUse, ok := block.AsAny().(anthropic.ToolUseBlock); ok {
			calls = append(calls, call{id: toolUse.ID, name: toolUse.Name, input: toolUse.Input})
		}
	}

	type outcome struct {
		content string
		isError bool
	}
	outcomes := make([]outcome, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	for i := range calls {
		g.Go(func() error {
			result, err := tools.Execute(gctx, calls[i].name, calls[i].input)
			if err != nil {
				e.logger.Warn("tool execution failed",
					slog.String("tool", calls[i].name), slog.Any("error", err))
				outcomes[i] = outcome{content: fmt.Sprintf("Error: %v", err), isError: true}
				return nil
			}
			outcomes[i] = outcome{content: result}
			return nil
		})
	}
	_ = g.Wait()

	results := make([]anthropic.ContentBlockParamUnion, len(calls))
	entries := make([]models.TranscriptEntry, len(calls))
	for i, c := range calls {
		results[i] = anthropic.NewToolResultBlock(c.id, outcomes[i].content, outcomes[i].isError)
		entries[i] = models.TranscriptEntry{
			Turn:     turn,
			Role:     "tool",
			Tool:     c.name,
			Input:    string(c.input),
			Content:  outcomes[i].content,
			IsError:  outcomes[i].isError,
			Occurred: time.Now().UTC(),
		}
	}
	return results, entries
}

func extractText(response *anthropic.Message) string {
	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String()
}

var confidencePattern = regexp.MustCompile(`(?i)confidence[:\s]*\(?([01](?:\.\d+)?)`)

// parseConfidence extracts the model's self-reported confidence from the
// final answer. Absent or malformed values read as zero.
func parseConfidence(text string) float64 {
	m := confidencePattern.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v < 0 || v > 1 {
		return 0
	}
	return v
}
