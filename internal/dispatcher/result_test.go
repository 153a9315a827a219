package dispatcher

import (
	"errors"
	"testing"

	"github.com/fleetmcp/coordinator/internal/capability"
	"github.com/fleetmcp/coordinator/internal/common/apierr"
	"github.com/fleetmcp/coordinator/internal/common/config"
)

func TestGlyphForMatchesErrorKind(t *testing.T) {
	cases := []struct {
		kind apierr.Kind
		want string
	}{
		{apierr.KindAuthorization, "🔒"},
		{apierr.KindValidation, "⚠️"},
		{apierr.KindInvariant, "⛔"},
		{apierr.KindExternal, "📡"},
		{apierr.KindInternal, "💥"},
	}
	for _, tc := range cases {
		if got := glyphFor(tc.kind); got != tc.want {
			t.Errorf("glyphFor(%s) = %q, want %q", tc.kind, got, tc.want)
		}
	}
}

func TestGlyphForUnknownKindFallsBackToInternal(t *testing.T) {
	if got, want := glyphFor(apierr.Kind("bogus")), glyphFor(apierr.KindInternal); got != want {
		t.Errorf("glyphFor(bogus) = %q, want fallback %q", got, want)
	}
}

func TestErrAdminRequiredIsAuthorizationKind(t *testing.T) {
	err := errAdminRequired("terminate_agent")
	kind, ok := apierr.KindOf(err)
	if !ok || kind != apierr.KindAuthorization {
		t.Fatalf("got kind=%v ok=%v, want authorization", kind, ok)
	}
	if !errors.Is(err, err) {
		t.Fatal("error should be comparable to itself")
	}
}

func TestEnabledReflectsGateState(t *testing.T) {
	gate := capability.FromConfig(config.CategoriesConfig{TaskManagement: true})
	d := &Deps{Gate: gate}

	if !enabled(d, "taskManagement") {
		t.Error("taskManagement should be enabled")
	}
	if enabled(d, "backgroundAgents") {
		t.Error("backgroundAgents should be disabled by default")
	}
}

func TestEnabledFalseWhenGateMissing(t *testing.T) {
	d := &Deps{}
	if enabled(d, "basic") {
		t.Error("a nil gate should report every category disabled")
	}
}
