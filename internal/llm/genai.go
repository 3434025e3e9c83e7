// Package llm adapts Google's Gemini API to the text-generation port
// used by detectors and summarization.
package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/diamondhholdings-hub/agent-army-sub001/internal/pattern"
)

// GenAICompleter implements pattern.Completer over the Gemini API.
type GenAICompleter struct {
	client *genai.Client
	model  string
}

// NewGenAICompleter creates the completer. The API key is required; the
// model defaults to a fast flash variant.
func NewGenAICompleter(ctx context.Context, apiKey, model string) (*GenAICompleter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("genai api key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GenAICompleter{client: client, model: model}, nil
}

// Complete sends the conversation and returns the generated text. The
// first system-role message becomes the system instruction.
func (c *GenAICompleter) Complete(ctx context.Context, messages []pattern.Message) (string, error) {
	var cfg genai.GenerateContentConfig
	var contents []*genai.Content
	for _, m := range messages {
		if m.Role == "system" && cfg.SystemInstruction == nil {
			cfg.SystemInstruction = genai.NewContentFromText(m.Content, genai.RoleUser)
			continue
		}
		role := genai.Role(genai.RoleUser)
		if m.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, &cfg)
	if err != nil {
		return "", fmt.Errorf("genai generate failed: %w", err)
	}
	return resp.Text(), nil
}

func (c *GenAICompleter) Name() string {
	return fmt.Sprintf("genai:%s", c.model)
}
