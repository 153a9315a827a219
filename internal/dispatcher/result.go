package dispatcher

import (
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/fleetmcp/coordinator/internal/common/apierr"
)

// glyphFor maps an error kind to the status glyph spec §6 describes
// ("explicit status glyphs") for the human-readable text channel.
func glyphFor(kind apierr.Kind) string {
	switch kind {
	case apierr.KindAuthorization:
		return "🔒"
	case apierr.KindValidation:
		return "⚠️"
	case apierr.KindInvariant:
		return "⛔"
	case apierr.KindExternal:
		return "📡"
	default:
		return "💥"
	}
}

// textResult builds a plain success response (spec §6: every tool
// returns {content:[{type:"text",text}]}).
func textResult(format string, args ...any) *mcp.CallToolResult {
	return mcp.NewToolResultText(fmt.Sprintf(format, args...))
}

// errResult translates a handler error into isError:true text, using
// the apierr.Kind to pick a glyph when the error was classified (spec
// §4.J "exceptions are caught and surfaced as isError:true with the
// exception message"; §7 distinguishes the five kinds for the caller).
func errResult(err error) *mcp.CallToolResult {
	kind, ok := apierr.KindOf(err)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("%s %v", glyphFor(apierr.KindInternal), err))
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s %v", glyphFor(kind), err))
}

// enabled reports whether category is enabled; disabled categories simply
// never get AddTool called (spec §4.L, testable property #10).
func enabled(d *Deps, category string) bool {
	return d.Gate != nil && d.Gate.Enabled(category)
}

// errAdminRequired reports an Authorization error for an admin-only
// operation invoked with a non-admin token.
func errAdminRequired(op string) error {
	return apierr.Authorization("%s requires admin token", op)
}
