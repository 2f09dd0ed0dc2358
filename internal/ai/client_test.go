package ai

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The request carries the schema as a json.Marshaler, which only a
// *jsonschema.Definition satisfies. Marshal through that interface exactly
// as the chat completion request does.
func TestDecisionSchemaMarshalsForResponseFormat(t *testing.T) {
	schema := decisionSchema([]string{"BTC", "ETH"})
	var marshaler json.Marshaler = &schema

	data, err := marshaler.MarshalJSON()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	props, ok := decoded["properties"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, props, "trade_decisions")

	assert.Contains(t, string(data), `"BTC"`)
	assert.Contains(t, string(data), `"allocation_usd"`)
	assert.Contains(t, string(data), `"exit_plan"`)
}
