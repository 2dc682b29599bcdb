// Package workflow defines workflow forms, versions and instances, the
// instance state machine, and the workflow store interface.
//
// # State Machine
//
// An [Instance] moves through these states:
//
//	waiting → executing
//	executing → success | halting | failed | cancelled
//	halting → halted
//	halted → waiting (administrative retry)
//
// Administrative cancellation is also permitted from waiting and halted.
// FinishedAt is stamped once, on the first entry into a terminal state.
//
// # Key Types
//
//   - [Form]: versionless definition, unique by capability name and title
//   - [Version]: a major.minor release of a form
//   - [Instance]: one execution of a version
//   - [State]: the instance lifecycle state
package workflow
