package appagent

import "errors"

// Error taxonomy shared across the session, engine and pool layers. Callers
// branch with errors.Is; wrapping with pkg/errors preserves matching.
var (
	// ErrStepBudgetExceeded reports a tool-calling session that ran out of
	// steps before the finish tool was invoked. Never a partial success.
	ErrStepBudgetExceeded = errors.New("session step budget exceeded")

	// ErrSchemaViolation reports a finish-tool argument that does not
	// conform to the requested result schema.
	ErrSchemaViolation = errors.New("session result schema violation")

	// ErrTransport reports an unreachable device or model. Retryable by
	// re-invoking a fresh session.
	ErrTransport = errors.New("transport failure")

	// ErrPrecondition reports a missing learned coordinate for an action.
	// Local to one Work iteration, fatal only to that specific action.
	ErrPrecondition = errors.New("action precondition not met")

	// ErrFatalStartup aborts the whole process: no devices could be
	// discovered or no engine could be created.
	ErrFatalStartup = errors.New("fatal startup failure")
)
