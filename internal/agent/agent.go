// Package agent wraps the Gemini client used by the kyc.discover verb
// (§11) to propose a required-documents/jurisdictions checklist for a
// CBU from its nature-and-purpose narrative. Grounded on the sibling
// retrieval-pack repo's internal/agent/agent.go (client/model init,
// safety settings) and on the teacher's internal/agent/dsl_agent.go
// (system-prompt shape, markdown-fenced JSON cleanup), which this
// package replaces.
package agent

import (
	"context"
	"fmt"
	"log"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Agent wraps a configured Gemini client and model. A nil *Agent is a
// valid value: callers check for it and degrade to a stub response
// rather than failing closed, since kyc.discover is optional (§11).
type Agent struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewAgent builds an Agent from apiKey. An empty key returns (nil, nil)
// so callers can treat "not configured" as a normal, non-error state.
func NewAgent(ctx context.Context, apiKey string) (*Agent, error) {
	if apiKey == "" {
		return nil, nil
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	model := client.GenerativeModel("gemini-2.5-flash-preview-09-2025")
	model.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
	}

	return &Agent{client: client, model: model}, nil
}

// Close releases the underlying client, if any.
func (a *Agent) Close() {
	if a == nil || a.client == nil {
		return
	}
	if err := a.client.Close(); err != nil {
		log.Printf("agent: closing genai client: %v", err)
	}
}
