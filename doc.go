// Package cjunct is a declarative task runner: it executes a user-declared
// workflow, a directed acyclic graph of named actions, with controlled
// parallelism, dependency-aware scheduling, and inter-action data flow via
// late-bound template expressions.
//
// # Quick start
//
//	wf, err := cjunct.NewWorkflow(map[string]cjunct.ActionSpec{
//		"Foo": {Type: "echo", Args: map[string]any{"message": "foo"}},
//		"Bar": {Type: "echo", Args: map[string]any{"message": "@{status.Foo}"},
//			Ancestors: map[string]cjunct.Dependency{"Foo": {Strict: true}}},
//	}, nil, nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	cfg, _ := cjunct.NewConfig()
//	runner := cjunct.NewRunner(cfg, nil)
//	if err := runner.Run(context.Background(), wf, false); err != nil {
//		os.Exit(cjunct.ExitCode(err))
//	}
//
// The package exposes:
//   - Action: the per-node runtime (state machine, event stream, outcomes).
//   - Workflow: the validated, tiered DAG plus its context mapping.
//   - Templar: the `@{ … }` expression renderer.
//   - Strategy: the five scheduling policies (free, sequential, loose,
//     strict, strict-sequential).
//   - Runner: the driver loop binding strategy, templar, and display.
//   - Display: the pluggable presentation sink.
package cjunct
