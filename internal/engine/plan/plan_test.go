package plan

import (
	"testing"

	"dsl-ob-poc/internal/engine/diagnostic"
	"dsl-ob-poc/internal/engine/validator"
)

func step(verb, bindAs string, consumes ...string) Step {
	return Step{Verb: verb, BindAs: bindAs, Consumes: consumes}
}

func TestSingleStep(t *testing.T) {
	res, err := Assemble([]Step{step("cbu.ensure", "fund")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Steps) != 1 || res.Steps[0].Verb != "cbu.ensure" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Phases) != 1 || len(res.Phases[0].StepIndices) != 1 {
		t.Fatalf("expected a single phase with a single step, got %+v", res.Phases)
	}
}

func TestEmptyPlanError(t *testing.T) {
	_, err := Assemble(nil)
	if _, ok := err.(*EmptyPlanError); !ok {
		t.Fatalf("expected EmptyPlanError, got %v", err)
	}
}

func TestNoDependenciesPreservesOrder(t *testing.T) {
	steps := []Step{
		step("cbu.ensure", "a"),
		step("cbu.ensure", "b"),
		step("cbu.ensure", "c"),
	}
	res, err := Assemble(steps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Reordered {
		t.Errorf("expected no reordering for independent steps")
	}
	for i, s := range res.Steps {
		if s.BindAs != steps[i].BindAs {
			t.Errorf("expected original order preserved, got %+v", res.Steps)
		}
	}
	if len(res.Phases) != 1 {
		t.Fatalf("expected a single phase for independent steps, got %+v", res.Phases)
	}
}

func TestBinding_DependencyDetected(t *testing.T) {
	steps := []Step{
		step("cbu.ensure", "fund"),
		step("cbu.assign-role", "", "fund"),
	}
	res, err := Assemble(steps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Steps[1].DependsOn) != 1 || res.Steps[1].DependsOn[0] != 0 {
		t.Fatalf("expected step 1 to depend on step 0, got %+v", res.Steps[1])
	}
	if len(res.Phases) != 2 {
		t.Fatalf("expected 2 phases, got %d: %+v", len(res.Phases), res.Phases)
	}
}

func TestReorderingWhenConsumerBeforeProducer(t *testing.T) {
	steps := []Step{
		step("cbu.assign-role", "", "fund"), // consumer first
		step("cbu.ensure", "fund"),          // producer second
	}
	res, err := Assemble(steps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Reordered {
		t.Fatalf("expected reordering to be detected")
	}
	if res.Steps[0].Verb != "cbu.ensure" || res.Steps[1].Verb != "cbu.assign-role" {
		t.Fatalf("expected producer-first order, got %+v", res.Steps)
	}
	found := false
	for _, d := range res.Diagnostics {
		if d.Code == diagnostic.WReordered {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a W_REORDERED diagnostic, got %+v", res.Diagnostics)
	}
}

func TestDiamondDependency(t *testing.T) {
	// A -> B, A -> C, B -> D, C -> D
	steps := []Step{
		step("step.a", "a"),
		step("step.b", "b", "a"),
		step("step.c", "c", "a"),
		step("step.d", "d", "b", "c"),
	}
	res, err := Assemble(steps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Phases) != 3 {
		t.Fatalf("expected 3 phases for a diamond dependency, got %d: %+v", len(res.Phases), res.Phases)
	}
	if len(res.Phases[0].StepIndices) != 1 {
		t.Errorf("expected phase 0 to contain only A, got %+v", res.Phases[0])
	}
	if len(res.Phases[1].StepIndices) != 2 {
		t.Errorf("expected phase 1 to contain B and C, got %+v", res.Phases[1])
	}
	if len(res.Phases[2].StepIndices) != 1 {
		t.Errorf("expected phase 2 to contain only D, got %+v", res.Phases[2])
	}
}

func TestUnresolvedBindingDiagnostic(t *testing.T) {
	steps := []Step{
		step("cbu.assign-role", "", "nonexistent"),
	}
	res, err := Assemble(steps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, d := range res.Diagnostics {
		if d.Code == diagnostic.IUnresolvedBinding {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an unresolved-binding diagnostic, got %+v", res.Diagnostics)
	}
}

func TestSelfReferenceNotDependency(t *testing.T) {
	// `:as @cbu :parent @cbu` must not create a self-dependency.
	steps := []Step{
		step("cbu.ensure", "cbu", "cbu"),
		step("cbu.get", "", "cbu"),
	}
	res, err := Assemble(steps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Steps[0].DependsOn) != 0 {
		t.Errorf("expected no self-dependency, got %+v", res.Steps[0])
	}
}

func TestCyclicDependencyIsError(t *testing.T) {
	steps := []Step{
		step("step.a", "a", "b"),
		step("step.b", "b", "a"),
	}
	_, err := Assemble(steps)
	cycleErr, ok := err.(*CycleError)
	if !ok {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if len(cycleErr.Verbs) != 2 {
		t.Errorf("expected both verbs in the cycle, got %+v", cycleErr.Verbs)
	}
}

func TestExtractStepsProducesAndConsumes(t *testing.T) {
	vp := &validator.ValidatedProgram{
		Statements: []*validator.ValidatedStatement{
			{
				Domain: "cbu", Verb: "ensure", As: "fund",
				Args: []validator.ValidatedArgument{
					{Key: "name", Value: validator.ResolvedArg{Kind: validator.ResolvedString, Str: "Apex"}},
				},
			},
			{
				Domain: "cbu", Verb: "assign-role",
				Args: []validator.ValidatedArgument{
					{Key: "cbu-id", Value: validator.ResolvedArg{Kind: validator.ResolvedSymbol, SymbolName: "fund"}},
					{Key: "role", Value: validator.ResolvedArg{Kind: validator.ResolvedString, Str: "director"}},
				},
			},
		},
	}

	steps := ExtractSteps(vp)
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	if steps[0].BindAs != "fund" {
		t.Errorf("expected step 0 to produce 'fund', got %q", steps[0].BindAs)
	}
	if len(steps[1].Consumes) != 1 || steps[1].Consumes[0] != "fund" {
		t.Errorf("expected step 1 to consume 'fund', got %+v", steps[1].Consumes)
	}
}

func TestExtractStepsConsumesNestedList(t *testing.T) {
	vp := &validator.ValidatedProgram{
		Statements: []*validator.ValidatedStatement{
			{
				Domain: "cbu", Verb: "batch",
				Args: []validator.ValidatedArgument{
					{Key: "items", Value: validator.ResolvedArg{Kind: validator.ResolvedList, List: []validator.ResolvedArg{
						{Kind: validator.ResolvedSymbol, SymbolName: "fund"},
						{Kind: validator.ResolvedSymbol, SymbolName: "person"},
					}}},
				},
			},
		},
	}
	steps := ExtractSteps(vp)
	if len(steps[0].Consumes) != 2 {
		t.Fatalf("expected 2 consumed bindings from the list, got %+v", steps[0].Consumes)
	}
}

func TestReorderedDiagnosticAbsentWhenOrderPreserved(t *testing.T) {
	steps := []Step{step("a", "a"), step("b", "b", "a")}
	res, err := Assemble(steps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, d := range res.Diagnostics {
		if d.Code == diagnostic.WReordered {
			t.Errorf("did not expect W_REORDERED when order already satisfies dependencies")
		}
	}
}
