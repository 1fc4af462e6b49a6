package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/google/generative-ai-go/genai"
)

// KYCDiscoveryResult is the structured suggestion returned for one CBU.
type KYCDiscoveryResult struct {
	RequiredDocuments []string `json:"required_documents"`
	Jurisdictions     []string `json:"jurisdictions"`
	Rationale         string   `json:"rationale"`
}

// DiscoverKYCRequirements proposes a KYC checklist for a CBU given its
// nature-and-purpose narrative and jurisdiction of formation.
func (a *Agent) DiscoverKYCRequirements(ctx context.Context, naturePurpose, jurisdiction string) (*KYCDiscoveryResult, error) {
	if a == nil || a.model == nil {
		return nil, fmt.Errorf("kyc discovery agent is not initialized")
	}

	systemPrompt := `You are a KYC onboarding analyst for a fund administrator.
Given a client business unit's nature-and-purpose narrative and its jurisdiction of
formation, propose the documents and any additional jurisdictions that should be
collected for know-your-customer due diligence.

RESPONSE FORMAT:
{
  "required_documents": ["Certificate of Incorporation", "..."],
  "jurisdictions": ["LU", "..."],
  "rationale": "one paragraph explaining the proposal"
}

Respond ONLY with a single well-formed JSON object. Do not include markdown,
code fences, or conversational text.`

	userPrompt := fmt.Sprintf("Nature and purpose: %s\nJurisdiction of formation: %s\n", naturePurpose, jurisdiction)

	a.model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	resp, err := a.model.GenerateContent(ctx, genai.Text(userPrompt))
	if err != nil {
		return nil, fmt.Errorf("generating kyc discovery content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no response from kyc discovery agent")
	}
	part := resp.Candidates[0].Content.Parts[0]
	textPart, ok := part.(genai.Text)
	if !ok {
		return nil, fmt.Errorf("unexpected response type from kyc discovery agent: %T", part)
	}

	log.Printf("kyc discovery agent raw response: %s", textPart)

	var result KYCDiscoveryResult
	if err := json.Unmarshal([]byte(cleanJSONResponse(string(textPart))), &result); err != nil {
		return nil, fmt.Errorf("parsing kyc discovery response: %w", err)
	}
	return &result, nil
}

// cleanJSONResponse strips a markdown code fence the model sometimes
// wraps its JSON response in, falling back to extracting the outermost
// {...} span if the response still doesn't parse as-is.
func cleanJSONResponse(response string) string {
	cleaned := strings.TrimSpace(response)
	if strings.HasPrefix(cleaned, "```json") {
		if nl := strings.Index(cleaned, "\n"); nl != -1 {
			cleaned = cleaned[nl+1:]
		}
	}
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	if json.Valid([]byte(cleaned)) {
		return cleaned
	}

	first, last := strings.Index(cleaned, "{"), strings.LastIndex(cleaned, "}")
	if first != -1 && last > first {
		if extracted := cleaned[first : last+1]; json.Valid([]byte(extracted)) {
			return extracted
		}
	}
	return response
}
