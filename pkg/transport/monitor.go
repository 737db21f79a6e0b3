package transport

import (
    "sync/atomic"
    "time"

    "go.uber.org/zap"

    "tactiled/pkg/async"
)

// Watch is a cancellable input-monitoring subscription.
type Watch struct {
    stopped atomic.Bool
}

// Cancel stops the subscription. Neither callback runs after Cancel has
// been observed by the reactor; a callback already posted may still run.
func (w *Watch) Cancel() { w.stopped.Store(true) }

// Monitor subscribes callback to input readiness on h. When the wait itself
// fails (unplug, handle closed) the subscription ends and onError is
// invoked once with the failure; a nil onError just ends the watch. The
// wait happens on a watcher goroutine, but callback and onError always run
// synchronously on the reactor goroutine, so they may touch alarm state
// freely.
func Monitor(r *async.Reactor, h Handle, callback func(), onError func(error)) *Watch {
    w := &Watch{}
    go func() {
        for !w.stopped.Load() {
            ready, err := h.AwaitInput(time.Second)
            if err != nil {
                zap.L().Debug("input monitor stopped", zap.String("device", h.String()), zap.Error(err))
                if onError != nil {
                    r.Post(func() {
                        if w.stopped.Load() { return }
                        w.stopped.Store(true)
                        onError(err)
                    })
                }
                return
            }
            if !ready { continue }
            done := make(chan struct{})
            r.Post(func() {
                defer close(done)
                if w.stopped.Load() { return }
                callback()
            })
            // Wait for the callback to drain the input before polling
            // again, otherwise readiness would fire in a tight loop.
            <-done
        }
    }()
    return w
}
