// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package channel

import (
	"sync"
	"time"
)

// Pipe is an in-memory loopback link: every written byte can be read back.
// Pipe is safe for concurrent use, so tests may inject bytes from another
// goroutine.
type Pipe struct {
	mu    sync.Mutex
	buf   []byte
	ready chan struct{}
	quit  bool
	loop  bool // loop written bytes back
}

// NewPipe returns a loopback link.
func NewPipe() *Pipe {
	return &Pipe{
		ready: make(chan struct{}, 1),
		loop:  true,
	}
}

// NewSink returns a link that swallows every written byte.
func NewSink() *Pipe {
	p := NewPipe()
	p.loop = false
	return p
}

// Inject makes p readable, as if the device had sent it.
func (pipe *Pipe) Inject(p []byte) {
	pipe.mu.Lock()
	defer pipe.mu.Unlock()
	pipe.push(p)
}

func (pipe *Pipe) push(p []byte) {
	if len(p) == 0 {
		return
	}
	pipe.buf = append(pipe.buf, p...)
	select {
	case pipe.ready <- struct{}{}:
	default:
	}
}

func (pipe *Pipe) Write(p []byte) (int, error) {
	pipe.mu.Lock()
	defer pipe.mu.Unlock()
	if pipe.quit {
		return 0, ErrClosed
	}
	if pipe.loop {
		pipe.push(p)
	}
	return len(p), nil
}

func (pipe *Pipe) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		tmr := time.NewTimer(timeout)
		defer tmr.Stop()
		deadline = tmr.C
	}

	for {
		pipe.mu.Lock()
		switch {
		case pipe.quit:
			pipe.mu.Unlock()
			return 0, ErrClosed
		case len(pipe.buf) > 0:
			n := copy(p, pipe.buf)
			pipe.buf = append(pipe.buf[:0], pipe.buf[n:]...)
			if len(pipe.buf) > 0 {
				select {
				case pipe.ready <- struct{}{}:
				default:
				}
			}
			pipe.mu.Unlock()
			return n, nil
		}
		pipe.mu.Unlock()

		if deadline == nil {
			return 0, ErrTimeout
		}

		select {
		case <-pipe.ready:
		case <-deadline:
			pipe.mu.Lock()
			empty := len(pipe.buf) == 0
			pipe.mu.Unlock()
			if empty {
				return 0, ErrTimeout
			}
		}
	}
}

func (pipe *Pipe) Flush() error {
	pipe.mu.Lock()
	defer pipe.mu.Unlock()
	if pipe.quit {
		return ErrClosed
	}
	pipe.buf = pipe.buf[:0]
	select {
	case <-pipe.ready:
	default:
	}
	return nil
}

func (pipe *Pipe) Close() error {
	pipe.mu.Lock()
	defer pipe.mu.Unlock()
	pipe.quit = true
	return nil
}

var _ Channel = (*Pipe)(nil)
