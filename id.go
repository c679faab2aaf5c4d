package cjunct

import "github.com/google/uuid"

// newRunID returns a fresh run identifier used to correlate a single
// Runner.Run invocation: it becomes the Runner logger's run_id field and
// the run.id attribute on the workflow.run span.
func newRunID() string {
	return uuid.NewString()
}
