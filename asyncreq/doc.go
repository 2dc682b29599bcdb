// Package asyncreq is the async-request-management capability: it parks a
// workflow instance and re-enters it later.
//
// There is at most one outstanding [Request] per workflow instance. A pass
// that postpones enqueues (or reschedules) the request; anything that
// unblocks the instance (a semaphore grant, a callback) wakes it. The [Pool]
// polls due requests and invokes a [Handler], normally the engine's
// Execute, for each one.
//
//	pending → running → (deleted)
//	running → pending (handler failed, rescheduled with backoff)
//	running → failed  (attempts exhausted)
package asyncreq
