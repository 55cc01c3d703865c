package relay

import (
	"context"
	"time"
)

// RunTaskLoop dequeues and runs items serially until the queue is
// drained (closed/cancelled with nothing left pending) or ctx is done.
// This is the only goroutine that ever writes to the client's
// transport, which is what gives the task queue a well-defined flush
// point for Close.
func (c *Client) RunTaskLoop(ctx context.Context) {
	for {
		item, ok := c.queue.Dequeue(ctx.Done())
		if !ok {
			return
		}
		if err := item.Run(); err != nil {
			c.log.Printf("task error for %s: %v", c, err)
		}
		if err := c.queue.TaskDone(); err != nil {
			c.log.Printf("%s: %v", c, err)
		}
	}
}

// RunKeepAlive pings on the configured interval and drops the client
// with CloseTimeout if a pong does not arrive within KeepAliveTimeout.
// It returns when ctx is cancelled (by ClientTasks.CancelAllButTaskLoop)
// or when a ping fails.
func (c *Client) RunKeepAlive(ctx context.Context) {
	for {
		interval := time.Duration(c.KeepAliveInterval())
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		pingCtx, cancel := context.WithTimeout(ctx, time.Duration(c.KeepAliveTimeoutValue()))
		err := c.Ping(pingCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if pingCtx.Err() != nil {
				c.Drop(CloseTimeout)
			} else {
				c.Drop(CloseProtocolError)
			}
			return
		}
	}
}
