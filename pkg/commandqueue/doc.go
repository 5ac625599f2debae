// Package commandqueue serializes turns per conversation.
//
// Invariants:
// - Tasks in the same lane execute one at a time in FIFO order.
// - Tasks in different lanes may execute concurrently.
// - A lane exists only while it has queued or running work.
//
// Usage:
//
//	queue := commandqueue.New()
//	defer queue.Close()
//	err := queue.Enqueue(ctx, conversationID, func(ctx context.Context) error {
//		return dispatcher.Handle(ctx, event)
//	}, nil)
package commandqueue
