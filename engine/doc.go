// Package engine wires all durable subsystems together and provides the
// application-level API for registering, running and administering
// workflows.
//
// The engine package sits above the subsystem packages (executor, cache,
// semaphore, asyncreq, cron) and below the application layer, so none of
// them has to know about the others.
//
// # Building an Engine
//
//	s := postgres.New(pool)
//	eng, err := engine.New(s, mongostore.New(db), redisstore.NewLocker(rdb),
//	    engine.WithLogger(logger),
//	    engine.WithExtension(audithook.New(audithook.JournalRecorder(w))),
//	    engine.WithMiddleware(myMiddleware),
//	)
//
// The memory store satisfies all three arguments and is meant for tests.
//
// # Registering Workflows
//
//	engine.Register(ctx, eng, &engine.Definition[Order, Receipt]{
//	    Capability:   "orders",
//	    Title:        "ship order",
//	    MajorVersion: 1,
//	    Func:         ShipOrder,
//	})
//
// # Running
//
//	receipt, inst, err := engine.Run[Order, Receipt](ctx, eng, "ship order", id.Nil, order)
//
// A postponed run returns a KindPostponed error; the re-entry pool started
// by [Engine.Start] continues it once it is due.
//
// # Administration
//
//   - [Engine.RetryHalted] re-arms a halted instance
//   - [Engine.RetryActivity] resets one failed activity
//   - [Engine.CancelInstance] cancels an instance
//   - [Engine.MarkAlertHandled] acknowledges a HandleLater failure
package engine
