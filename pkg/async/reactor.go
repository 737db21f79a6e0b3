// Package async provides the cooperative alarm reactor: one goroutine that
// owns every pending alarm and interleaves timer firing with work posted by
// I/O watchers. Nothing mutates alarm state off the reactor goroutine;
// external requests are queued and executed on it.
package async

import (
    "container/heap"
    "sync"
    "time"
)

// AlarmCallback is invoked synchronously on the reactor goroutine when an
// alarm fires. It may reschedule its own alarm or schedule others.
type AlarmCallback func(data any)

// Alarm is one scheduled callback. It is owned by its creator and must be
// dropped right after Cancel or after the callback has run.
type Alarm struct {
    reactor  *Reactor
    callback AlarmCallback
    data     any

    // reactor-goroutine state
    deadline time.Time
    seq      uint64
    index    int // position in the heap, -1 when not queued
    fired    bool
}

// Reactor drives alarms and posted work on a single goroutine.
type Reactor struct {
    mu      sync.Mutex
    pending []func()
    seq     uint64

    wakeCh chan struct{}
    stopCh chan struct{}
    doneCh chan struct{}

    alarms alarmHeap
}

func NewReactor() *Reactor {
    r := &Reactor{
        wakeCh: make(chan struct{}, 1),
        stopCh: make(chan struct{}),
        doneCh: make(chan struct{}),
    }
    go r.loop()
    return r
}

// Post queues fn for execution on the reactor goroutine. Safe to call from
// any goroutine, including from inside an alarm callback.
func (r *Reactor) Post(fn func()) {
    r.mu.Lock()
    r.pending = append(r.pending, fn)
    r.mu.Unlock()
    select { case r.wakeCh <- struct{}{}: default: }
}

// SetAlarmIn schedules callback to run after delay. The returned alarm can
// be reset or cancelled any time before it fires.
func (r *Reactor) SetAlarmIn(delay time.Duration, callback AlarmCallback, data any) *Alarm {
    a := &Alarm{reactor: r, callback: callback, data: data, index: -1}
    r.mu.Lock()
    r.seq++
    a.seq = r.seq
    r.mu.Unlock()

    deadline := time.Now().Add(delay)
    r.Post(func() {
        a.deadline = deadline
        heap.Push(&r.alarms, a)
    })
    return a
}

// ResetIn changes the remaining delay to run relative to now. Resetting an
// alarm that already fired schedules it again.
func (a *Alarm) ResetIn(delay time.Duration) {
    deadline := time.Now().Add(delay)
    r := a.reactor
    r.Post(func() {
        a.deadline = deadline
        if a.index >= 0 {
            heap.Fix(&r.alarms, a.index)
            return
        }
        a.fired = false
        heap.Push(&r.alarms, a)
    })
}

// Cancel guarantees the callback never runs, provided the alarm has not
// fired yet. Cancelling after it fired is a benign no-op. Cancel never
// interrupts a callback already in progress.
func (a *Alarm) Cancel() {
    r := a.reactor
    r.Post(func() {
        if a.index >= 0 {
            heap.Remove(&r.alarms, a.index)
        }
        a.fired = true
    })
}

// Done is closed once the reactor goroutine has stopped. Work posted after
// that never runs; callers waiting on a posted result select on Done too.
func (r *Reactor) Done() <-chan struct{} { return r.doneCh }

// Close stops the reactor goroutine. Pending alarms never fire afterwards.
func (r *Reactor) Close() {
    select {
    case <-r.stopCh:
    default:
        close(r.stopCh)
    }
    <-r.doneCh
}

func (r *Reactor) takePending() []func() {
    r.mu.Lock()
    fns := r.pending
    r.pending = nil
    r.mu.Unlock()
    return fns
}

func (r *Reactor) loop() {
    defer close(r.doneCh)
    timer := time.NewTimer(time.Hour)
    defer timer.Stop()

    for {
        for _, fn := range r.takePending() { fn() }

        // Fire everything due. Alarms fire in nondecreasing deadline order,
        // ties in scheduling order; never before their deadline.
        now := time.Now()
        firedAny := false
        for r.alarms.Len() > 0 && !r.alarms[0].deadline.After(now) {
            a := heap.Pop(&r.alarms).(*Alarm)
            a.fired = true
            a.callback(a.data)
            firedAny = true
        }
        if firedAny {
            continue // callbacks may have posted work
        }

        wait := time.Hour
        if r.alarms.Len() > 0 {
            if wait = time.Until(r.alarms[0].deadline); wait < 0 { wait = 0 }
        }
        if !timer.Stop() {
            select { case <-timer.C: default: }
        }
        timer.Reset(wait)

        select {
        case <-r.stopCh:
            return
        case <-r.wakeCh:
        case <-timer.C:
        }
    }
}

type alarmHeap []*Alarm

func (h alarmHeap) Len() int { return len(h) }

func (h alarmHeap) Less(i, j int) bool {
    if !h[i].deadline.Equal(h[j].deadline) {
        return h[i].deadline.Before(h[j].deadline)
    }
    return h[i].seq < h[j].seq
}

func (h alarmHeap) Swap(i, j int) {
    h[i], h[j] = h[j], h[i]
    h[i].index, h[j].index = i, j
}

func (h *alarmHeap) Push(x any) {
    a := x.(*Alarm)
    a.index = len(*h)
    *h = append(*h, a)
}

func (h *alarmHeap) Pop() any {
    old := *h
    n := len(old)
    a := old[n-1]
    old[n-1] = nil
    a.index = -1
    *h = old[:n-1]
    return a
}
