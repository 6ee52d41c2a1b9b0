package device

import (
	"fmt"
	"sync"
)

// MemcpyKind specifies the direction of a memory transfer. On CPU the
// directions behave identically; they are kept so call sites document
// which side of the host/device boundary each buffer lives on.
type MemcpyKind int

const (
	MemcpyHostToHost     MemcpyKind = iota // Host to host transfer
	MemcpyHostToDevice                     // Host to device transfer
	MemcpyDeviceToHost                     // Device to host transfer
	MemcpyDeviceToDevice                   // Device to device transfer
)

// Buffer is a handle to device memory holding float64 elements. Use
// Float64 to obtain a slice view for kernel code; the view stays valid
// until the buffer is freed.
type Buffer struct {
	data []float64
	id   uint64
}

// Float64 returns the slice view of the buffer's elements
func (b Buffer) Float64() []float64 {
	return b.data
}

// Len returns the element count of the buffer
func (b Buffer) Len() int {
	return len(b.data)
}

type allocation struct {
	data []float64 // full backing storage, capacity may exceed the request
	used bool
}

// freedTrackLimit bounds the double-free detection window. Buffer ids
// are never reissued, so entries older than the limit can be dropped
// without misclassifying a live buffer; a stale double free then reports
// as not-found instead, still a memory error.
const freedTrackLimit = 4096

// MemoryPool manages device memory allocation with block reuse. Freed
// blocks go to a free list and are zeroed before being handed out again,
// so a fresh allocation never exposes stale elements.
type MemoryPool struct {
	mu         sync.Mutex
	allocated  map[uint64]*allocation
	freed      map[uint64]struct{}
	freeList   []*allocation
	nextID     uint64
	totalAlloc int64
	peakAlloc  int64
}

// NewMemoryPool creates a pool with allocation tracking
func NewMemoryPool() *MemoryPool {
	return &MemoryPool{
		allocated: make(map[uint64]*allocation),
		freed:     make(map[uint64]struct{}),
	}
}

// Malloc allocates device memory for n float64 elements, zero-initialized.
func (ctx *Context) Malloc(n int) (Buffer, error) {
	return ctx.memory.Allocate(n)
}

// Free releases device memory allocated by Malloc. The block is retained
// in the pool for future allocations.
func (ctx *Context) Free(buf Buffer) error {
	return ctx.memory.Free(buf)
}

// Allocate hands out a buffer of n elements, reusing a freed block when
// one is large enough.
func (mp *MemoryPool) Allocate(n int) (Buffer, error) {
	if n <= 0 {
		return Buffer{}, ErrInvalidSize
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	for i, alloc := range mp.freeList {
		if cap(alloc.data) >= n {
			mp.freeList = append(mp.freeList[:i], mp.freeList[i+1:]...)
			alloc.used = true
			alloc.data = alloc.data[:n]
			for j := range alloc.data {
				alloc.data[j] = 0
			}
			return mp.track(alloc, n), nil
		}
	}

	alloc := &allocation{
		data: make([]float64, n),
		used: true,
	}
	return mp.track(alloc, n), nil
}

// track registers an allocation and updates usage accounting. Caller
// holds mp.mu.
func (mp *MemoryPool) track(alloc *allocation, n int) Buffer {
	mp.nextID++
	id := mp.nextID
	mp.allocated[id] = alloc

	mp.totalAlloc += int64(n)
	if mp.totalAlloc > mp.peakAlloc {
		mp.peakAlloc = mp.totalAlloc
	}

	return Buffer{data: alloc.data, id: id}
}

// Free returns a buffer's block to the pool
func (mp *MemoryPool) Free(buf Buffer) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	alloc, ok := mp.allocated[buf.id]
	if !ok {
		if _, wasFreed := mp.freed[buf.id]; wasFreed {
			return ErrDoubleFree
		}
		return NewMemoryError("Free", "buffer not found in allocation pool", nil)
	}

	alloc.used = false
	delete(mp.allocated, buf.id)
	if len(mp.freed) >= freedTrackLimit {
		mp.freed = make(map[uint64]struct{}, freedTrackLimit)
	}
	mp.freed[buf.id] = struct{}{}
	mp.freeList = append(mp.freeList, alloc)
	mp.totalAlloc -= int64(len(buf.data))

	return nil
}

// GetStats returns current and peak element counts held by callers
func (mp *MemoryPool) GetStats() (allocated, peak int64) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.totalAlloc, mp.peakAlloc
}

// Stats exposes the context's memory pool statistics
func (ctx *Context) Stats() (allocated, peak int64) {
	return ctx.memory.GetStats()
}

// Memcpy copies n float64 elements between host slices and device buffers.
// Supported operand types are Buffer and []float64 on either side.
func (ctx *Context) Memcpy(dst, src interface{}, n int, kind MemcpyKind) error {
	if n < 0 {
		return NewInvalidArgError("Memcpy", "negative element count")
	}

	dstSlice, err := memcpyOperand("Memcpy", "dst", dst)
	if err != nil {
		return err
	}
	srcSlice, err := memcpyOperand("Memcpy", "src", src)
	if err != nil {
		return err
	}

	if len(dstSlice) < n || len(srcSlice) < n {
		return NewInvalidArgError("Memcpy",
			fmt.Sprintf("copy of %d elements exceeds operand size (dst %d, src %d)",
				n, len(dstSlice), len(srcSlice)))
	}

	copy(dstSlice[:n], srcSlice[:n])
	return nil
}

func memcpyOperand(op, name string, v interface{}) ([]float64, error) {
	switch s := v.(type) {
	case Buffer:
		if s.data == nil {
			return nil, ErrNullBuffer
		}
		return s.data, nil
	case []float64:
		return s, nil
	default:
		return nil, NewInvalidArgError(op, fmt.Sprintf("unsupported %s type: %T", name, v))
	}
}
