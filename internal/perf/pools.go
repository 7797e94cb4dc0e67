// Package perf provides object pools for hot paths.
package perf

import (
	"bytes"
	"strings"
	"sync"
)

// StringBuilderPool provides reusable strings.Builder instances.
var StringBuilderPool = sync.Pool{
	New: func() interface{} {
		return &strings.Builder{}
	},
}

// AcquireStringBuilder gets a strings.Builder from the pool.
func AcquireStringBuilder() *strings.Builder {
	return StringBuilderPool.Get().(*strings.Builder)
}

// ReleaseStringBuilder returns a strings.Builder to the pool after resetting it.
func ReleaseStringBuilder(sb *strings.Builder) {
	if sb == nil {
		return
	}
	sb.Reset()
	StringBuilderPool.Put(sb)
}

// ByteBufferPool provides reusable bytes.Buffer instances.
var ByteBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
}

// AcquireByteBuffer gets a bytes.Buffer from the pool.
func AcquireByteBuffer() *bytes.Buffer {
	return ByteBufferPool.Get().(*bytes.Buffer)
}

// ReleaseByteBuffer resets and returns a bytes.Buffer to the pool.
func ReleaseByteBuffer(b *bytes.Buffer) {
	if b == nil {
		return
	}
	b.Reset()
	ByteBufferPool.Put(b)
}
