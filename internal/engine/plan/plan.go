// Package plan converts a validated program's statements into a
// dependency-ordered execution plan of phases, via binding-dependency
// topological sort. It is the Go rendering of
// original_source/rust/src/plan_builder/plan_assembler.rs.
package plan

import (
	"fmt"

	"dsl-ob-poc/internal/engine/ast"
	"dsl-ob-poc/internal/engine/diagnostic"
	"dsl-ob-poc/internal/engine/validator"
)

// Step is the assembler's input shape: one compiled unit that may
// produce a named binding and consume zero or more named bindings.
type Step struct {
	Verb     string
	BindAs   string
	Consumes []string
	Span     ast.Span
	Args     []validator.ValidatedArgument
}

// ExtractSteps derives Steps from a ValidatedProgram's statements,
// walking each statement's resolved arguments (including nested calls,
// lists, and maps) to find every symbol reference it consumes.
func ExtractSteps(vp *validator.ValidatedProgram) []Step {
	steps := make([]Step, 0, len(vp.Statements))
	for _, stmt := range vp.Statements {
		s := Step{Verb: stmt.FullVerb(), BindAs: stmt.As, Span: stmt.Span, Args: stmt.Args}
		for _, arg := range stmt.Args {
			s.Consumes = append(s.Consumes, consumedSymbols(arg.Value)...)
		}
		steps = append(steps, s)
	}
	return steps
}

func consumedSymbols(v validator.ResolvedArg) []string {
	switch v.Kind {
	case validator.ResolvedSymbol:
		return []string{v.SymbolName}
	case validator.ResolvedList:
		var out []string
		for _, item := range v.List {
			out = append(out, consumedSymbols(item)...)
		}
		return out
	case validator.ResolvedMap:
		var out []string
		for _, item := range v.Map {
			out = append(out, consumedSymbols(item)...)
		}
		return out
	case validator.ResolvedNestedCall:
		if v.Nested == nil {
			return nil
		}
		var out []string
		for _, arg := range v.Nested.Args {
			out = append(out, consumedSymbols(arg.Value)...)
		}
		return out
	default:
		return nil
	}
}

// CompiledStep is a single entry in the final, reordered plan.
type CompiledStep struct {
	StepID    int
	Verb      string
	BindAs    string
	DependsOn []int // StepIDs, expressed in the reordered plan
	Args      []validator.ValidatedArgument
	Span      ast.Span
}

// ExecutionPhase groups step indices (into Result.Steps) at equal DAG depth.
type ExecutionPhase struct {
	Depth       int
	StepIndices []int
}

// Result is the assembler's output.
type Result struct {
	Steps       []CompiledStep
	Reordered   bool
	Phases      []ExecutionPhase
	Diagnostics diagnostic.List
}

// CycleError is a hard error carrying the involved verbs, returned when
// the dependency graph contains a cycle.
type CycleError struct {
	Verbs []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cyclic dependency among verbs: %v", e.Verbs)
}

// EmptyPlanError is returned when Assemble is given zero steps.
type EmptyPlanError struct{}

func (e *EmptyPlanError) Error() string { return "empty plan" }

// Assemble builds a dependency-ordered plan from steps, per §4.5.
func Assemble(steps []Step) (*Result, error) {
	if len(steps) == 0 {
		return nil, &EmptyPlanError{}
	}
	if len(steps) == 1 {
		var diags diagnostic.List
		for _, name := range steps[0].Consumes {
			if name != steps[0].BindAs {
				diags = append(diags, diagnostic.New(diagnostic.Info, diagnostic.IUnresolvedBinding, steps[0].Span,
					fmt.Sprintf("binding @%s has no producer in this plan; assumed external", name)))
			}
		}
		return &Result{
			Steps:       []CompiledStep{{StepID: 0, Verb: steps[0].Verb, BindAs: steps[0].BindAs, Args: steps[0].Args, Span: steps[0].Span}},
			Phases:      []ExecutionPhase{{Depth: 0, StepIndices: []int{0}}},
			Diagnostics: diags,
		}, nil
	}

	// Step 2: map name -> producing step index. Two steps producing the
	// same name is a compile error here as in the validator
	// (E_DUPLICATE_BINDING).
	producerOf := make(map[string]int, len(steps))
	for i, s := range steps {
		if s.BindAs != "" {
			if prev, dup := producerOf[s.BindAs]; dup {
				return nil, fmt.Errorf("%s: binding @%s is produced by step %d (%s) and step %d (%s)",
					diagnostic.EDuplicateBinding, s.BindAs, prev, steps[prev].Verb, i, s.Verb)
			}
			producerOf[s.BindAs] = i
		}
	}

	// Step 3: build edges consumer -> producer. Unresolved consumption
	// (no producer in this plan) is informational, not fatal: the symbol
	// is assumed to be an externally-supplied binding at execution time.
	var diags diagnostic.List
	edges := make([][]int, len(steps)) // edges[consumer] = [producer, ...]
	inDegree := make([]int, len(steps))
	reverseDeps := make([][]int, len(steps)) // reverseDeps[producer] = [consumer, ...]

	for i, s := range steps {
		for _, name := range s.Consumes {
			producer, ok := producerOf[name]
			if !ok {
				diags = append(diags, diagnostic.New(diagnostic.Info, diagnostic.IUnresolvedBinding, s.Span,
					fmt.Sprintf("binding @%s has no producer in this plan; assumed external", name)))
				continue
			}
			if producer == i {
				continue // self-reference, e.g. `:as @cbu :parent @cbu`, is not a dependency
			}
			edges[i] = append(edges[i], producer)
			inDegree[i]++
			reverseDeps[producer] = append(reverseDeps[producer], i)
		}
	}

	// Step 4: Kahn's algorithm topological sort.
	sortedIndices, cycleVerbs, ok := topologicalSort(steps, inDegree, edges, reverseDeps)
	if !ok {
		return nil, &CycleError{Verbs: cycleVerbs}
	}

	reordered := false
	for pos, orig := range sortedIndices {
		if pos != orig {
			reordered = true
			break
		}
	}
	if reordered {
		diags = append(diags, diagnostic.New(diagnostic.Warning, diagnostic.WReordered, ast.Span{},
			"plan statements were reordered to satisfy binding dependencies"))
	}

	// old_to_new_step_id: original index -> position in the sorted plan.
	oldToNew := make(map[int]int, len(steps))
	for newIdx, oldIdx := range sortedIndices {
		oldToNew[oldIdx] = newIdx
	}

	compiled := make([]CompiledStep, len(sortedIndices))
	for newIdx, oldIdx := range sortedIndices {
		s := steps[oldIdx]
		cs := CompiledStep{StepID: newIdx, Verb: s.Verb, BindAs: s.BindAs, Args: s.Args, Span: s.Span}
		for _, producerOldIdx := range edges[oldIdx] {
			cs.DependsOn = append(cs.DependsOn, oldToNew[producerOldIdx])
		}
		compiled[newIdx] = cs
	}

	phases := computePhases(compiled)

	return &Result{Steps: compiled, Reordered: reordered, Phases: phases, Diagnostics: diags}, nil
}

// topologicalSort implements Kahn's algorithm over the original step
// indices, consuming inDegree/edges/reverseDeps built by the caller. It
// returns the sorted original indices, or the verbs involved in a cycle.
func topologicalSort(steps []Step, inDegree []int, edges, reverseDeps [][]int) ([]int, []string, bool) {
	inDegreeCopy := make([]int, len(inDegree))
	copy(inDegreeCopy, inDegree)

	queue := make([]int, 0, len(steps))
	for i, d := range inDegreeCopy {
		if d == 0 {
			queue = append(queue, i)
		}
	}

	var sorted []int
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		sorted = append(sorted, n)
		for _, consumer := range reverseDeps[n] {
			inDegreeCopy[consumer]--
			if inDegreeCopy[consumer] == 0 {
				queue = append(queue, consumer)
			}
		}
	}

	if len(sorted) != len(steps) {
		var cycleVerbs []string
		for i, d := range inDegreeCopy {
			if d > 0 {
				cycleVerbs = append(cycleVerbs, steps[i].Verb)
			}
		}
		return nil, cycleVerbs, false
	}
	return sorted, nil, true
}

// computePhases groups compiled steps by DAG depth (max(dep depths)+1),
// memoized, matching plan_assembler.rs's compute_depth/compute_phases.
func computePhases(steps []CompiledStep) []ExecutionPhase {
	depth := make([]int, len(steps))
	computed := make([]bool, len(steps))

	var depthOf func(i int) int
	depthOf = func(i int) int {
		if computed[i] {
			return depth[i]
		}
		maxDep := -1
		for _, dep := range steps[i].DependsOn {
			if d := depthOf(dep); d > maxDep {
				maxDep = d
			}
		}
		depth[i] = maxDep + 1
		computed[i] = true
		return depth[i]
	}

	maxDepth := 0
	for i := range steps {
		d := depthOf(i)
		if d > maxDepth {
			maxDepth = d
		}
	}

	byDepth := make([][]int, maxDepth+1)
	for i := range steps {
		d := depth[i]
		byDepth[d] = append(byDepth[d], i)
	}

	var phases []ExecutionPhase
	for d, indices := range byDepth {
		if len(indices) == 0 {
			continue
		}
		phases = append(phases, ExecutionPhase{Depth: d, StepIndices: indices})
	}
	return phases
}
