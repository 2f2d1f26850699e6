package loss

import (
	"fmt"
	"sync"
)

// bufferPool holds a set of named float32 buffer pools, used to recycle the
// dense target-objectness grids allocated on every loss call
type bufferPool struct {
	mu    sync.Mutex
	pools map[string]*bufferEntry
}

// bufferEntry defines a single buffer
type bufferEntry struct {
	pool    sync.Pool
	maxSize int
}

// newBufferPool returns an empty bufferPool
func newBufferPool() *bufferPool {
	return &bufferPool{
		pools: make(map[string]*bufferEntry),
	}
}

// create registers a new pool under 'name' that will produce buffers of at
// least hintSize elements.  Calling it twice with the same name returns an
// error.
func (b *bufferPool) create(name string, hintSize int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.pools[name]; exists {
		return fmt.Errorf("buffer pool %q already exists", name)
	}

	entry := &bufferEntry{maxSize: hintSize}

	entry.pool.New = func() any {
		return make([]float32, hintSize)
	}

	b.pools[name] = entry
	return nil
}

// get returns a zeroed []float32 slice of length 'size' from the named pool,
// growing beyond the hint size if required.
// Panics if the pool name is unknown.
func (b *bufferPool) get(name string, size int) []float32 {
	b.mu.Lock()
	entry, ok := b.pools[name]
	b.mu.Unlock()

	if !ok {
		panic(fmt.Sprintf("buffer pool %q not registered", name))
	}

	buf := entry.pool.Get().([]float32)

	if cap(buf) < size {
		return make([]float32, size)
	}

	// get buffer of required size
	buf = buf[:size]

	// zero out the buffer
	for i := range buf {
		buf[i] = 0
	}

	return buf
}

// put returns a buffer back into it's named pool.
// You must only call put on a buffer you previously got via get
// with the same name.
func (b *bufferPool) put(name string, buf []float32) {
	b.mu.Lock()
	entry, ok := b.pools[name]
	b.mu.Unlock()

	if !ok {
		panic(fmt.Sprintf("buffer pool %q not registered", name))
	}

	if cap(buf) < entry.maxSize {
		return
	}

	entry.pool.Put(buf[:cap(buf)])
}