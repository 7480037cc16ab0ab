package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"ascend/internal/engine"
)

var ErrLoopClosed = errors.New("session loop closed")

// Loop runs posted functions one at a time on a single goroutine.
type Loop struct {
	tasks     chan func()
	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
}

func NewLoop() *Loop {
	l := &Loop{
		tasks:  make(chan func(), 64),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.exited)
	for {
		select {
		case fn := <-l.tasks:
			fn()
		case <-l.done:
			return
		}
	}
}

// Post queues fn without waiting for it. It reports false once the loop is closed.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Do runs fn on the loop and waits for it to return. fn is skipped when ctx
// is done before the loop reaches it.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	_, err := call(ctx, l, func() (struct{}, error) {
		fn()
		return struct{}{}, nil
	})
	return err
}

const (
	callQueued int32 = iota
	callStarted
	callAbandoned
)

type result[T any] struct {
	val      T
	err      error
	panicked any
}

// call runs fn on the loop and hands its result back over a channel. Once
// fn has started the caller waits for it even if ctx ends, so a call either
// takes full effect and reports it or never runs.
func call[T any](ctx context.Context, l *Loop, fn func() (T, error)) (T, error) {
	var (
		zero  T
		state atomic.Int32
	)
	res := make(chan result[T], 1)
	ok := l.Post(func() {
		if ctx.Err() != nil || !state.CompareAndSwap(callQueued, callStarted) {
			return
		}
		var r result[T]
		defer func() {
			r.panicked = recover()
			res <- r
		}()
		r.val, r.err = fn()
	})
	if !ok {
		return zero, ErrLoopClosed
	}
	select {
	case r := <-res:
		return r.unwrap()
	case <-ctx.Done():
		if state.CompareAndSwap(callQueued, callAbandoned) {
			return zero, ctx.Err()
		}
	case <-l.exited:
		return drain(res)
	}
	select {
	case r := <-res:
		return r.unwrap()
	case <-l.exited:
		return drain(res)
	}
}

// drain picks up a result delivered just before the loop exited.
func drain[T any](res <-chan result[T]) (T, error) {
	select {
	case r := <-res:
		return r.unwrap()
	default:
		var zero T
		return zero, ErrLoopClosed
	}
}

func (r result[T]) unwrap() (T, error) {
	if r.panicked != nil {
		panic(r.panicked)
	}
	return r.val, r.err
}

// Close stops the loop and waits for the goroutine to exit. Queued
// functions that have not started are dropped.
func (l *Loop) Close() {
	l.closeOnce.Do(func() { close(l.done) })
	<-l.exited
}

// timerScheduler fires continuations on wall-clock timers and runs them on
// the loop, so the engine only ever sees one goroutine.
type timerScheduler struct {
	loop *Loop
}

func (s timerScheduler) After(delay time.Duration, fn func()) func() {
	t := time.AfterFunc(delay, func() { s.loop.Post(fn) })
	return func() { t.Stop() }
}

var _ engine.Scheduler = timerScheduler{}
