package capability

import (
	"testing"

	"github.com/fleetmcp/coordinator/internal/common/config"
)

func TestFromConfigAlwaysEnablesBasic(t *testing.T) {
	gate := FromConfig(config.CategoriesConfig{})
	if !gate.Enabled(Basic) {
		t.Fatal("basic must be enabled regardless of config")
	}
	if gate.Enabled(RAG) {
		t.Fatal("rag should be off when not configured")
	}
}

func TestFromConfigPassesThroughEnabledCategories(t *testing.T) {
	gate := FromConfig(config.CategoriesConfig{RAG: true, TaskManagement: true})
	if !gate.Enabled(RAG) {
		t.Error("rag should be on")
	}
	if !gate.Enabled(TaskManagement) {
		t.Error("taskManagement should be on")
	}
	if gate.Enabled(Memory) {
		t.Error("memory should stay off")
	}
}

func TestWarningsFlagsMissingDependency(t *testing.T) {
	gate := FromConfig(config.CategoriesConfig{TaskManagement: true})
	warnings := gate.Warnings()
	if len(warnings) != 1 {
		t.Fatalf("got %d warnings, want 1: %+v", len(warnings), warnings)
	}
	if warnings[0].Category != TaskManagement || warnings[0].Requires != AgentManagement {
		t.Errorf("unexpected warning: %+v", warnings[0])
	}
}

func TestWarningsEmptyWhenDependenciesSatisfied(t *testing.T) {
	gate := FromConfig(config.CategoriesConfig{TaskManagement: true, AgentManagement: true})
	if warnings := gate.Warnings(); len(warnings) != 0 {
		t.Errorf("got %d warnings, want 0: %+v", len(warnings), warnings)
	}
}

func TestApplyModeFull(t *testing.T) {
	cfg := ApplyMode(ModeFull)
	gate := FromConfig(cfg)
	for _, cat := range []string{RAG, Memory, AgentManagement, TaskManagement, FileManagement,
		AgentCommunication, SessionState, AssistanceRequest, BackgroundAgents} {
		if !gate.Enabled(cat) {
			t.Errorf("full mode should enable %q", cat)
		}
	}
	if len(gate.Warnings()) != 0 {
		t.Errorf("full mode should satisfy every dependency, got %+v", gate.Warnings())
	}
}

func TestApplyModeMinimalOnlyBasic(t *testing.T) {
	gate := FromConfig(ApplyMode(ModeMinimal))
	if !gate.Enabled(Basic) {
		t.Error("minimal mode should still enable basic")
	}
	if gate.Enabled(RAG) || gate.Enabled(TaskManagement) {
		t.Error("minimal mode should not enable anything beyond basic")
	}
}
