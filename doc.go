// Package durable provides a replay-based durable workflow execution engine
// for Go.
//
// A workflow is an ordinary Go function composed of activities. Every pass
// over a workflow instance replays the function from the top; activities
// that already succeeded return their memoized result without running user
// code again. Passes are short and externally triggered: when an activity
// must wait (for a callback, a semaphore, a timer) the pass ends with a
// postponement and the instance is re-entered later.
//
// # Quick Start
//
//	eng, err := engine.New(store, engine.WithBlobStore(blobs), engine.WithLocker(locker))
//	engine.Register(eng, engine.Definition[Order, Receipt]{
//	    CapabilityName: "orders",
//	    Title:          "place order",
//	    Major:          1,
//	    Run: func(wf *executor.Workflow, in Order) (Receipt, error) {
//	        id, err := executor.Function(wf, "reserve stock", reserve)
//	        ...
//	    },
//	})
//	out, err := engine.Run[Order, Receipt](ctx, eng, "orders", "place order", instanceID, order)
//
// # Architecture
//
// Each subsystem (workflow, activity, semaphore, journal, asyncreq) defines
// its own store interface and a single backend implements all of them.
// When the primary store is unreachable the engine writes a compact
// summary of the instance to a blob store and postpones; the next pass
// hydrates from that summary.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package durable
