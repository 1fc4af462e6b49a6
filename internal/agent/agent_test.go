package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAgentWithEmptyKeyReturnsNilWithoutError(t *testing.T) {
	a, err := NewAgent(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestNilAgentCloseIsSafe(t *testing.T) {
	var a *Agent
	a.Close() // must not panic
}

func TestNilAgentDiscoverKYCRequirementsFails(t *testing.T) {
	var a *Agent
	_, err := a.DiscoverKYCRequirements(context.Background(), "fund", "LU")
	require.Error(t, err)
}

func TestCleanJSONResponseStripsMarkdownFence(t *testing.T) {
	in := "```json\n{\"required_documents\":[\"Passport\"]}\n```"
	want := `{"required_documents":["Passport"]}`
	assert.Equal(t, want, cleanJSONResponse(in))
}

func TestCleanJSONResponseExtractsEmbeddedObject(t *testing.T) {
	in := `Sure, here you go: {"jurisdictions":["LU"]} hope that helps!`
	want := `{"jurisdictions":["LU"]}`
	assert.Equal(t, want, cleanJSONResponse(in))
}

func TestCleanJSONResponsePassesThroughValidJSON(t *testing.T) {
	in := `{"required_documents":["Passport"],"jurisdictions":["LU"]}`
	assert.Equal(t, in, cleanJSONResponse(in))
}
