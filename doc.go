// Package httppool manages a bounded pool of reusable HTTP/1.1 connections
// and drives requests over them as explicit, non-blocking state machines.
//
// A [Pool] owns up to Capacity slots, each wrapping one [Connection]. A
// [RequestState] borrows a slot, connects, sends, parses the response head
// and streams the body, advancing one step per tick. A [Driver] ticks every
// active request on a fixed period. When all slots are borrowed, new
// requests queue as waiters and are served first come, first served.
//
// # Quick Start
//
// Create a pool, start a driver and run requests:
//
//	pool, _ := httppool.New(httppool.WithCapacity(4))
//	defer pool.Close()
//
//	driver := httppool.NewDriver(pool, 0, nil)
//	driver.Start(ctx)
//	defer driver.Stop()
//
//	res, err := pool.Get(ctx, "http://example.com/")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(res.StatusCode, len(res.Body))
//
// # Driving Requests Manually
//
// [Pool.Do] is a convenience over the state machine. The same request can
// be driven step by step:
//
//	st := pool.NewRequestState()
//	_ = st.WaitReady(ctx)               // slot attached
//	_ = st.SetOutputPath("/tmp/page")   // optional: stream to a file
//	_ = st.Connect("example.com", 80, false)
//	for !st.Phase().Terminal() {
//	    driver.Tick()
//	}
//	res := st.Result()
//
// Cancel abandons a request, keeping the connection if nothing was sent
// yet. Terminate closes the connection and gives the slot a fresh one.
// Both release the slot exactly once.
//
// # Errors
//
// Per-request failures never escape Tick. They are recorded as a
// *[RequestError] in [Result.Err] with a [Kind] classifying the failure,
// and the result's StatusCode is zero. Pool misuse (double release,
// foreign slots) is logged and returned, or panics under
// [WithStrictInvariants].
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Completion callbacks
// and progress functions run without internal locks held.
package httppool
