package util

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/kgassist/core"
)

type studentQuery struct {
	ClassID string `json:"class_id" description:"Class identifier"`
	Limit   int    `json:"limit,omitempty"`
	Status  string `json:"status,omitempty" enum:"active,graduated"`
}

func TestCreateSchema_FromStruct(t *testing.T) {
	schema := CreateSchema(studentQuery{})
	props := schema["properties"].(map[string]any)
	require.Contains(t, props, "class_id")
	assert.Equal(t, "integer", props["limit"].(map[string]any)["type"])
	assert.Equal(t, []string{"class_id"}, schema["required"])
	assert.Equal(t, []any{"active", "graduated"}, props["status"].(map[string]any)["enum"])
}

func TestValidateParameters(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"class_id": map[string]any{"type": "string"},
			"limit":    map[string]any{"type": "integer"},
			"status":   map[string]any{"type": "string", "enum": []any{"active", "graduated"}},
			"filter": map[string]any{
				"type":     "object",
				"required": []any{"field"},
				"properties": map[string]any{
					"field": map[string]any{"type": "string"},
				},
			},
			"tags": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required":             []string{"class_id"},
		"additionalProperties": false,
	}

	cases := []struct {
		name      string
		params    map[string]any
		wantField string
	}{
		{"valid", map[string]any{"class_id": "c1", "limit": float64(10)}, ""},
		{"missing required", map[string]any{"limit": 3}, "class_id"},
		{"wrong type", map[string]any{"class_id": 5}, "class_id"},
		{"fractional integer", map[string]any{"class_id": "c1", "limit": 1.5}, "limit"},
		{"enum violation", map[string]any{"class_id": "c1", "status": "expelled"}, "status"},
		{"nested required", map[string]any{"class_id": "c1", "filter": map[string]any{}}, "filter.field"},
		{"array item type", map[string]any{"class_id": "c1", "tags": []any{"a", 2}}, "tags[1]"},
		{"unknown field", map[string]any{"class_id": "c1", "colour": "red"}, "colour"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateParameters(tc.params, schema)
			if tc.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var ve *core.ValidationError
			require.True(t, errors.As(err, &ve), "expected validation error, got %v", err)
			assert.Equal(t, tc.wantField, ve.Field)
		})
	}
}

func TestValidateParameters_NilSchemaAcceptsAnything(t *testing.T) {
	assert.NoError(t, ValidateParameters(map[string]any{"x": 1}, nil))
}

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate("Role: {{ default \"staff\" .role }} / {{ .name }}", map[string]any{"name": "<Anna>"})
	require.NoError(t, err)
	assert.Equal(t, "Role: staff / <Anna>", out)

	plain, err := RenderTemplate("no markers", nil)
	require.NoError(t, err)
	assert.Equal(t, "no markers", plain)
}
