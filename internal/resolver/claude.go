package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/ShayCichocki/foreman/pkg/models"
)

// resolveSystemPrompt instructs the model to confirm only dependencies that
// are truly needed. A missed dependency is recoverable at runtime via a
// blocker report; a spurious one can deadlock the graph, so omission wins.
const resolveSystemPrompt = `You are a dependency analyst for a software project task graph.

You are given one subtask and a list of candidate subtasks from other workstreams.
Decide which candidates this subtask genuinely depends on.

Rules:
1. Confirm a dependency ONLY if the candidate's output is truly needed to start this subtask.
2. Match on meaning, not surface text similarity.
3. Never confirm a candidate from the same parent workstream.
4. When in doubt, omit. A missed dependency is recoverable later; a false one can deadlock the plan.`

// resolvePromptTemplate is the template for dependency validation requests.
const resolvePromptTemplate = `Subtask:
  id: %s
  name: %s
  requires: %s

Candidates:
%s

Return ONLY a JSON object with this exact structure (no other text):
{
  "confirmed_ids": ["candidate-id", ...],
  "rationale": {
    "candidate-id": "one sentence explaining why this output is needed"
  }
}`

// resolveResponse is the JSON structure returned by the model.
type resolveResponse struct {
	ConfirmedIDs []string          `json:"confirmed_ids"`
	Rationale    map[string]string `json:"rationale"`
}

// ClaudeConfig contains configuration for creating a ClaudeResolver.
type ClaudeConfig struct {
	// Model is the Claude model to use.
	Model anthropic.Model
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY.
	APIKey string
	// UseAWSBedrock indicates whether to use AWS Bedrock instead of the direct API.
	UseAWSBedrock bool
	// AWSRegion is the AWS region for Bedrock.
	AWSRegion string
	// AWSProfile is the optional AWS profile name to use.
	AWSProfile string
}

// ClaudeResolver implements ReasoningService over the Anthropic API.
type ClaudeResolver struct {
	inner anthropic.Client
	model anthropic.Model
}

// NewClaudeResolver creates a reasoning service backed by Claude.
func NewClaudeResolver(cfg ClaudeConfig) (*ClaudeResolver, error) {
	var opts []option.RequestOption

	if cfg.UseAWSBedrock {
		ctx := context.Background()
		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	model := cfg.Model
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}

	return &ClaudeResolver{
		inner: anthropic.NewClient(opts...),
		model: model,
	}, nil
}

// Resolve asks the model which candidates the subtask depends on.
func (c *ClaudeResolver) Resolve(ctx context.Context, subtask *models.Task, candidates []*models.Task) (*Resolution, error) {
	prompt := fmt.Sprintf(resolvePromptTemplate,
		subtask.ID, subtask.Name, subtask.Requires, formatCandidates(candidates))

	resp, err := c.inner.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 2048,
		System: []anthropic.TextBlockParam{
			{Text: resolveSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("resolve dependencies for %s: %w", subtask.ID, err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(variant.Text)
		}
	}

	parsed, err := parseResolveResponse(text.String())
	if err != nil {
		return nil, fmt.Errorf("parse resolve response for %s: %w", subtask.ID, err)
	}

	return &Resolution{
		ConfirmedIDs: parsed.ConfirmedIDs,
		Rationale:    parsed.Rationale,
	}, nil
}

// formatCandidates renders the candidate list for the prompt.
func formatCandidates(candidates []*models.Task) string {
	var b strings.Builder
	for _, c := range candidates {
		fmt.Fprintf(&b, "  - id: %s\n    name: %s\n    parent: %s\n    provides: %s\n",
			c.ID, c.Name, c.ParentTaskID, c.Provides)
	}
	return b.String()
}

// parseResolveResponse extracts the JSON object from the model's reply.
func parseResolveResponse(response string) (*resolveResponse, error) {
	jsonStart := strings.Index(response, "{")
	jsonEnd := strings.LastIndex(response, "}")
	if jsonStart == -1 || jsonEnd == -1 || jsonEnd <= jsonStart {
		return nil, fmt.Errorf("no valid JSON object found in response")
	}

	var resp resolveResponse
	if err := json.Unmarshal([]byte(response[jsonStart:jsonEnd+1]), &resp); err != nil {
		return nil, fmt.Errorf("unmarshal JSON: %w", err)
	}
	return &resp, nil
}
