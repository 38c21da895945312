package tools

import "context"

// Tool is a named, schema-described capability an agent can invoke. Tools are
// stateless beyond their inputs: everything call-specific arrives through the
// args map and the ExecutionContext.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns a JSON-schema object declaration for the tool's
	// arguments. The registry compiles it once at registration and validates
	// every call against it before dispatch.
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}, ec *ExecutionContext) ToolResult
}

// Category groups registered tools for filtered lookup.
type Category string

const (
	CategoryFilesystem Category = "filesystem"
	CategorySearch     Category = "search"
	CategoryExecution  Category = "execution"
	CategoryAgent      Category = "agent"
	CategoryOther      Category = "other"
)

// ToolToSchema wraps a tool into the function-call declaration the completion
// provider expects.
func ToolToSchema(tool Tool) map[string]interface{} {
	return map[string]interface{}{
		"type": "function",
		"function": map[string]interface{}{
			"name":        tool.Name(),
			"description": tool.Description(),
			"parameters":  tool.Parameters(),
		},
	}
}
