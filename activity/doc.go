// Package activity defines activity forms, versions and instances, the
// activity state machine, fail urgency, and the activity store interface.
//
// An activity instance is identified by its memoization [Key]: the workflow
// instance, the activity version, the parent activity instance and the loop
// iteration. Retries update the same row in place.
//
//	waiting → executing
//	executing → success | failed | waiting (retry from catch)
//	failed → waiting (administrative retry)
package activity
