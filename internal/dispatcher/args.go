package dispatcher

import "github.com/mark3labs/mcp-go/mcp"

// stringSliceArg reads a JSON array argument as []string. mcp-go decodes
// tool arguments from JSON-RPC params, so an array argument always
// arrives as []interface{} regardless of the declared schema type;
// non-string elements are skipped rather than rejected, since task_ids
// / capabilities / suggested_actions are advisory lists, not schemas
// worth failing a whole call over one bad element.
func stringSliceArg(req mcp.CallToolRequest, name string) []string {
	raw, ok := req.GetArguments()[name]
	if !ok || raw == nil {
		return nil
	}
	switch v := raw.(type) {
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	default:
		return nil
	}
}
