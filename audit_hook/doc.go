// Package audithook is a durable extension that bridges lifecycle events
// to an audit trail.
//
// Every workflow, activity and maintenance hook emits a structured audit
// event through the [Recorder] interface. The extension assigns severity
// levels (info for normal operations, warning for postponements and
// halts, critical for terminal failures) and metadata (titles, elapsed
// time, failure category).
//
// # Journaling
//
// [JournalRecorder] writes each event into the instance's own journal so
// operators see lifecycle transitions next to the workflow's business log:
//
//	eng.Extensions().Register(audithook.New(audithook.JournalRecorder(eng.Journal())))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionWorkflowHalted,
//	        audithook.ActionWorkflowFailed,
//	        audithook.ActionActivityFailed,
//	    ),
//	)
package audithook
