/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package pool

import (
	"bytes"
	"sync"
)

// DefaultMaxBufferSize is the largest buffer capacity retained by a default pool.
const DefaultMaxBufferSize = 64 * 1024

// BufferPool hands out reusable buffers for element serialization.
type BufferPool struct {
	p       sync.Pool
	maxSize int
}

// NewBufferPool returns a buffer pool retaining buffers up to DefaultMaxBufferSize.
func NewBufferPool() *BufferPool {
	return NewBufferPoolSize(DefaultMaxBufferSize)
}

// NewBufferPoolSize returns a buffer pool retaining buffers up to maxSize bytes of capacity.
// Larger buffers, like the ones holding a big roster result, are left to the garbage collector.
func NewBufferPoolSize(maxSize int) *BufferPool {
	bp := &BufferPool{maxSize: maxSize}
	bp.p.New = func() interface{} { return new(bytes.Buffer) }
	return bp
}

// Get returns an empty buffer.
func (bp *BufferPool) Get() *bytes.Buffer {
	return bp.p.Get().(*bytes.Buffer)
}

// Put gives a buffer back to the pool.
func (bp *BufferPool) Put(buf *bytes.Buffer) {
	if buf.Cap() > bp.maxSize {
		return
	}
	buf.Reset()
	bp.p.Put(buf)
}

// Render runs fn over a pooled buffer and returns the written content.
func (bp *BufferPool) Render(fn func(buf *bytes.Buffer)) string {
	buf := bp.Get()
	defer bp.Put(buf)
	fn(buf)
	return buf.String()
}
