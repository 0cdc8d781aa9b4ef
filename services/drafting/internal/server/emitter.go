package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

var (
	errStreamingUnsupported = errors.New("streaming unsupported")
	errChannelClosed        = errors.New("push channel closed")
)

// sseChannel delivers the events of one exchange as server-sent events.
// Writers may be on any goroutine; the lifecycle hooks only ever run on the
// goroutine blocked in Wait, after the channel is closed.
type sseChannel struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu         sync.Mutex
	started    bool
	closed     bool
	err        error
	done       chan struct{}
	completion []func()
	timeout    []func()
	onError    []func(error)
}

func newSSEChannel(w http.ResponseWriter) (*sseChannel, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errStreamingUnsupported
	}
	return &sseChannel{w: w, flusher: flusher, done: make(chan struct{})}, nil
}

// Send writes one event. The payload is split on newlines into data lines.
func (c *sseChannel) Send(event, data string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errChannelClosed
	}
	c.startLocked()

	var b strings.Builder
	if event != "" {
		fmt.Fprintf(&b, "event: %s\n", event)
	}
	for line := range strings.SplitSeq(data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")
	if _, err := io.WriteString(c.w, b.String()); err != nil {
		c.finishLocked(err)
		return err
	}
	c.flusher.Flush()
	return nil
}

// Close ends the stream normally. Later calls are no-ops.
func (c *sseChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finishLocked(nil)
}

// CompleteWithError ends the stream with err. Later calls are no-ops.
func (c *sseChannel) CompleteWithError(err error) {
	if err == nil {
		err = errChannelClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finishLocked(err)
}

func (c *sseChannel) OnCompletion(fn func()) {
	c.mu.Lock()
	c.completion = append(c.completion, fn)
	c.mu.Unlock()
}

func (c *sseChannel) OnTimeout(fn func()) {
	c.mu.Lock()
	c.timeout = append(c.timeout, fn)
	c.mu.Unlock()
}

func (c *sseChannel) OnError(fn func(error)) {
	c.mu.Lock()
	c.onError = append(c.onError, fn)
	c.mu.Unlock()
}

// Wait commits the response headers and blocks until the channel is closed,
// ctx ends or timeout elapses, then runs the registered hooks.
func (c *sseChannel) Wait(ctx context.Context, timeout time.Duration) {
	c.mu.Lock()
	c.startLocked()
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	timedOut := false
	select {
	case <-c.done:
	case <-ctx.Done():
		c.CompleteWithError(ctx.Err())
	case <-timer.C:
		timedOut = true
		c.Close()
	}

	c.mu.Lock()
	err := c.err
	completion := append([]func(){}, c.completion...)
	onTimeout := append([]func(){}, c.timeout...)
	onError := append([]func(error){}, c.onError...)
	c.mu.Unlock()

	if timedOut {
		for _, fn := range onTimeout {
			fn()
		}
	} else if err != nil {
		for _, fn := range onError {
			fn(err)
		}
	}
	for _, fn := range completion {
		fn()
	}
}

func (c *sseChannel) startLocked() {
	if c.started {
		return
	}
	c.started = true
	h := c.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.w.WriteHeader(http.StatusOK)
	c.flusher.Flush()
}

func (c *sseChannel) finishLocked(err error) {
	if c.closed {
		return
	}
	c.closed = true
	c.err = err
	close(c.done)
}
