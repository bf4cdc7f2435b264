/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package runqueue

import (
	"sync"

	"github.com/ortuman/xmppchat/log"
)

type node struct {
	fn   func()
	next *node
}

// RunQueue executes posted functions one at a time, in posting order,
// without keeping a dedicated goroutine alive while idle.
type RunQueue struct {
	name    string
	mu      sync.Mutex
	head    *node
	tail    *node
	running bool
	stopped bool
	stopCb  func()
}

// New returns a new run queue instance.
func New(name string) *RunQueue {
	return &RunQueue{name: name}
}

// Run enqueues fn. It is ignored once the queue has been stopped.
func (m *RunQueue) Run(fn func()) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.push(fn)
	start := !m.running
	m.running = true
	m.mu.Unlock()

	if start {
		go m.process()
	}
}

// Stop discards any further Run call. stopCb is invoked once all
// previously enqueued functions have been executed.
func (m *RunQueue) Stop(stopCb func()) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.stopCb = stopCb
	idle := !m.running
	m.mu.Unlock()

	if idle && stopCb != nil {
		go stopCb()
	}
}

func (m *RunQueue) push(fn func()) {
	n := &node{fn: fn}
	if m.tail == nil {
		m.head = n
	} else {
		m.tail.next = n
	}
	m.tail = n
}

func (m *RunQueue) pop() func() {
	n := m.head
	if n == nil {
		return nil
	}
	m.head = n.next
	if m.head == nil {
		m.tail = nil
	}
	return n.fn
}

func (m *RunQueue) process() {
	for {
		m.mu.Lock()
		fn := m.pop()
		if fn == nil {
			m.running = false
			stopCb := m.stopCb
			stopped := m.stopped
			m.mu.Unlock()

			if stopped && stopCb != nil {
				stopCb()
			}
			return
		}
		m.mu.Unlock()

		m.run(fn)
	}
}

func (m *RunQueue) run(fn func()) {
	defer func() {
		if err := recover(); err != nil {
			log.Errorf("run queue %s panicked with error: %v", m.name, err)
		}
	}()
	fn()
}
