// Package commandqueue provides lane-based task execution with FIFO ordering per lane.
//
// Invariants:
// - Tasks in the same lane execute one at a time, in submission order.
// - Tasks in different lanes may execute concurrently.
// - A lane exists only while it has queued or running tasks.
// - After Close, queued tasks resolve with ErrClosed and new submissions are rejected.
//
// Usage:
//
//	queue := commandqueue.New("tutor")
//	defer queue.Close()
//	pending, err := queue.Submit(ctx, "tg:42", func(ctx context.Context) (interface{}, error) {
//		return "ok", nil
//	}, nil)
//	if err == nil {
//		result, err := pending.Wait(ctx)
//	}
package commandqueue
