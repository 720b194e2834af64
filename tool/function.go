package tool

import (
	"context"

	"github.com/hupe1980/kgassist/internal/util"
)

// NewFunctionTool builds a Definition around a plain Go function.
//
// Example:
//
//	students := NewFunctionTool(
//	  "query_students",
//	  "List students of a class",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "class_id": map[string]any{"type": "string"},
//	    },
//	    "required": []string{"class_id"},
//	  },
//	  func(ctx context.Context, params map[string]any) (any, error) {
//	    return directory.Students(ctx, params["class_id"].(string))
//	  },
//	)
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(ctx context.Context, params map[string]any) (any, error),
	optFns ...func(d *Definition),
) Definition {
	def := Definition{
		Name:        name,
		Description: description,
		Version:     "1",
		ParamSchema: parameters,
		Handler:     HandlerFunc(fn),
	}
	for _, opt := range optFns {
		opt(&def)
	}
	return def
}

// NewFunctionToolFromStruct derives the parameter schema from a struct using
// reflection; see util.CreateSchema for the supported tags.
//
// Example:
//
//	type ReportArgs struct {
//	  ClassID string `json:"class_id" description:"Class identifier"`
//	  Period  string `json:"period" enum:"week,month"`
//	}
//
//	report := NewFunctionToolFromStruct("generate_report", "Generate an attendance report", ReportArgs{}, fn)
func NewFunctionToolFromStruct(
	name, description string,
	structType any,
	fn func(ctx context.Context, params map[string]any) (any, error),
	optFns ...func(d *Definition),
) Definition {
	schema := util.CreateSchema(structType)
	return NewFunctionTool(name, description, schema, fn, optFns...)
}
