// Command dslctl validates and executes onboarding DSL programs against
// the engine package, exposing validate/execute/replay subcommands via
// cobra (declared in the teacher's go.mod but unused at its root until
// this command).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"dsl-ob-poc/internal/agent"
	"dsl-ob-poc/internal/config"
	"dsl-ob-poc/internal/engine"
	"dsl-ob-poc/internal/engine/audit"
	"dsl-ob-poc/internal/engine/executor"
	"dsl-ob-poc/internal/engine/idempotency"
	"dsl-ob-poc/internal/engine/registry"
	"dsl-ob-poc/internal/engine/resolver"
	"dsl-ob-poc/internal/engine/validator"
)

// Exit codes per SPEC_FULL.md §7.
const (
	exitSuccess          = 0
	exitValidationFailed = 1
	exitExecutionFailed  = 2
	exitCancelled        = 3
)

func main() {
	root := &cobra.Command{
		Use:   "dslctl",
		Short: "Validate and execute onboarding DSL programs",
	}

	var intent string
	var strict bool
	root.PersistentFlags().StringVar(&intent, "intent", "", "intent the program is validated against (e.g. OnboardCorporate)")
	root.PersistentFlags().BoolVar(&strict, "strict", false, "promote unused-binding warnings to errors")

	root.AddCommand(newValidateCmd(&intent, &strict))
	root.AddCommand(newExecuteCmd(&intent, &strict))
	root.AddCommand(newReplayCmd(&intent, &strict))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitExecutionFailed)
	}
}

func newValidateCmd(intent *string, strict *bool) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Parse and semantically validate a DSL program",
		Run: func(cmd *cobra.Command, args []string) {
			source, err := readSource(file)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(exitValidationFailed)
			}

			e := newMockEngine()
			_, diags := e.Validate(context.Background(), engine.ValidationRequest{
				Source: source, Intent: registry.Intent(*intent), StrictOnUnusedBinding: *strict,
			})
			for _, d := range diags {
				fmt.Fprintln(os.Stderr, d.Severity, d.Code, d.Message)
			}
			if diags.HasErrors() {
				os.Exit(exitValidationFailed)
			}
			fmt.Println("OK: program is valid")
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "path to a .dsl file, or - for stdin")
	return cmd
}

func newExecuteCmd(intent *string, strict *bool) *cobra.Command {
	var file, executionID string
	var continueOnError bool
	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Validate and execute a DSL program",
		Run: func(cmd *cobra.Command, args []string) {
			runExecute(file, executionID, *intent, *strict, continueOnError)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "path to a .dsl file, or - for stdin")
	cmd.Flags().StringVar(&executionID, "execution-id", "", "execution id for idempotent replay (generated if empty)")
	cmd.Flags().BoolVar(&continueOnError, "continue-on-error", false, "run every phase even if an earlier step failed")
	return cmd
}

// newReplayCmd re-runs a prior execution id against its original source
// program. It is execute with a mandatory --execution-id: the plan is
// reassembled and re-run statement by statement, and the Idempotency
// Store (§4.7) skips every step already recorded under that id, so only
// genuinely new or previously-failed steps do any work.
func newReplayCmd(intent *string, strict *bool) *cobra.Command {
	var file, executionID string
	var continueOnError bool
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-run a prior execution id, relying on idempotency to skip completed steps",
		Run: func(cmd *cobra.Command, args []string) {
			if executionID == "" {
				fmt.Fprintln(os.Stderr, "replay requires --execution-id")
				os.Exit(exitValidationFailed)
			}
			runExecute(file, executionID, *intent, *strict, continueOnError)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "path to the .dsl file the execution id was originally run from, or - for stdin")
	cmd.Flags().StringVar(&executionID, "execution-id", "", "execution id to replay")
	cmd.Flags().BoolVar(&continueOnError, "continue-on-error", false, "run every phase even if an earlier step failed")
	return cmd
}

// runExecute validates source from file and executes it under
// executionID, printing diagnostics/step errors to stderr and the step
// outcomes as JSON to stdout. Shared by execute and replay: replaying
// an execution id is exactly this, called again with the same id.
func runExecute(file, executionID, intent string, strict, continueOnError bool) {
	source, err := readSource(file)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitValidationFailed)
	}

	e := newMockEngine()
	ctx := context.Background()

	vp, diags := e.Validate(ctx, engine.ValidationRequest{
		Source: source, Intent: registry.Intent(intent), StrictOnUnusedBinding: strict,
	})
	if diags.HasErrors() {
		for _, d := range diags {
			fmt.Fprintln(os.Stderr, d.Severity, d.Code, d.Message)
		}
		os.Exit(exitValidationFailed)
	}

	mode := executor.Strict
	if continueOnError {
		mode = executor.ContinueOnError
	}
	outcome, err := e.Execute(ctx, vp, engine.ExecutionRequest{
		ExecutionID: executionID,
		Attribution: idempotency.NewSourceAttribution(idempotency.SourceCLI, idempotency.ActorUser),
		Mode:        mode,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if ctx.Err() != nil {
			os.Exit(exitCancelled)
		}
		os.Exit(exitExecutionFailed)
	}
	if outcome.Outcome.HasErrors() {
		for _, s := range outcome.Outcome.Steps {
			if s.Err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", s.Verb, s.Err)
			}
		}
		os.Exit(exitExecutionFailed)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(outcome.Outcome.Steps)
}

func readSource(file string) (string, error) {
	if file == "-" || file == "" {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(raw), nil
	}
	raw, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", file, err)
	}
	return string(raw), nil
}

// newMockEngine builds an Engine backed by in-memory stores. Swapping
// in PostgresStore-backed components here (resolver.PostgresStore,
// idempotency.PostgresStore, audit.PostgresStore, executor.PostgresDomainStore)
// driven by config.GetConnectionString() is the production wiring point;
// mock mode keeps dslctl usable without a database for local iteration.
func newMockEngine() *engine.Engine {
	cfg := config.GetEngineConfig()
	reg := registry.Builtin()
	resStore := resolver.NewMockStore()
	domainStore := executor.NewMockDomainStore()
	idemStore := idempotency.NewMockStore()
	viewStore := audit.NewMockStore()

	var ag *agent.Agent
	if cfg.GeminiAPIKey != "" {
		var err error
		ag, err = agent.NewAgent(context.Background(), cfg.GeminiAPIKey)
		if err != nil {
			fmt.Fprintf(os.Stderr, "dslctl: kyc.discover agent unavailable: %v\n", err)
		}
	}
	e := engine.NewWithAgent(reg, resStore, domainStore, idemStore, viewStore, ag)
	e.Resolver = resolver.New(resStore, resolver.Config{SimilarityThreshold: cfg.ResolverSimilarityThreshold, MaxSuggestions: cfg.MaxSuggestions})
	e.Validator = validator.New(reg, e.Resolver)
	return e
}
