package async

import (
    "sync/atomic"
    "testing"
    "time"
)

func TestAlarmFires(t *testing.T) {
    r := NewReactor()
    defer r.Close()

    fired := make(chan time.Time, 1)
    start := time.Now()
    r.SetAlarmIn(20*time.Millisecond, func(any) { fired <- time.Now() }, nil)

    select {
    case at := <-fired:
        if at.Sub(start) < 20*time.Millisecond {
            t.Fatalf("fired early: %v", at.Sub(start))
        }
    case <-time.After(2 * time.Second):
        t.Fatalf("alarm never fired")
    }
}

func TestAlarmCancel(t *testing.T) {
    r := NewReactor()
    defer r.Close()

    var fired atomic.Bool
    a := r.SetAlarmIn(50*time.Millisecond, func(any) { fired.Store(true) }, nil)
    a.Cancel()

    time.Sleep(150 * time.Millisecond)
    if fired.Load() {
        t.Fatalf("cancelled alarm fired")
    }
    // cancelling again is a benign no-op
    a.Cancel()
}

func TestAlarmReset(t *testing.T) {
    r := NewReactor()
    defer r.Close()

    fired := make(chan time.Time, 1)
    start := time.Now()
    a := r.SetAlarmIn(500*time.Millisecond, func(any) { fired <- time.Now() }, nil)
    a.ResetIn(20 * time.Millisecond)

    select {
    case at := <-fired:
        elapsed := at.Sub(start)
        if elapsed < 20*time.Millisecond || elapsed > 400*time.Millisecond {
            t.Fatalf("reset alarm fired after %v", elapsed)
        }
    case <-time.After(2 * time.Second):
        t.Fatalf("reset alarm never fired")
    }
}

func TestAlarmOrdering(t *testing.T) {
    r := NewReactor()
    defer r.Close()

    order := make(chan int, 3)
    r.SetAlarmIn(60*time.Millisecond, func(data any) { order <- data.(int) }, 3)
    r.SetAlarmIn(20*time.Millisecond, func(data any) { order <- data.(int) }, 1)
    r.SetAlarmIn(40*time.Millisecond, func(data any) { order <- data.(int) }, 2)

    for want := 1; want <= 3; want++ {
        select {
        case got := <-order:
            if got != want { t.Fatalf("fired out of order: got %d want %d", got, want) }
        case <-time.After(2 * time.Second):
            t.Fatalf("alarm %d never fired", want)
        }
    }
}

func TestAlarmTieFiresInSchedulingOrder(t *testing.T) {
    r := NewReactor()
    defer r.Close()

    order := make(chan int, 2)
    delay := 30 * time.Millisecond
    r.SetAlarmIn(delay, func(data any) { order <- data.(int) }, 1)
    r.SetAlarmIn(delay, func(data any) { order <- data.(int) }, 2)

    for want := 1; want <= 2; want++ {
        select {
        case got := <-order:
            if got != want { t.Fatalf("tie order: got %d want %d", got, want) }
        case <-time.After(2 * time.Second):
            t.Fatalf("alarm %d never fired", want)
        }
    }
}

func TestPost(t *testing.T) {
    r := NewReactor()
    defer r.Close()

    done := make(chan struct{})
    r.Post(func() { close(done) })
    select {
    case <-done:
    case <-time.After(2 * time.Second):
        t.Fatalf("posted work never ran")
    }
}

func TestCallbackReschedules(t *testing.T) {
    r := NewReactor()
    defer r.Close()

    var count atomic.Int32
    done := make(chan struct{})
    var tick AlarmCallback
    tick = func(any) {
        if count.Add(1) == 3 {
            close(done)
            return
        }
        r.SetAlarmIn(10*time.Millisecond, tick, nil)
    }
    r.SetAlarmIn(10*time.Millisecond, tick, nil)

    select {
    case <-done:
    case <-time.After(2 * time.Second):
        t.Fatalf("rescheduled alarm chain stalled at %d", count.Load())
    }
}

func TestDone(t *testing.T) {
    r := NewReactor()
    select {
    case <-r.Done():
        t.Fatalf("done before close")
    default:
    }
    r.Close()
    select {
    case <-r.Done():
    case <-time.After(2 * time.Second):
        t.Fatalf("done not closed after close")
    }
}
