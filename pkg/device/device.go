// Package device provides a data-parallel execution engine for the surrogate
// computation kernels. It models a compute device in the CUDA style: kernels
// are launched over a grid of thread blocks, buffers are allocated from a
// device memory pool and copied explicitly between host and device, and each
// kernel launch on a stream completes fully before the next one starts, so a
// launch boundary acts as a device-wide barrier.
//
// On CPU the "device" is the set of worker goroutines owned by a Context, and
// device memory is pooled host memory, but the transfer and launch discipline
// is kept so kernel code stays free of host-side assumptions.
//
// Example usage:
//
//	ctx := device.NewContext()
//	defer ctx.Destroy()
//
//	d_a, _ := ctx.Malloc(n * n)
//	defer ctx.Free(d_a)
//	ctx.Memcpy(d_a, h_a, n*n, device.MemcpyHostToDevice)
//
//	ctx.Launch(kernel, device.Dim3{X: n, Y: n, Z: 1}, device.Dim3{X: 1, Y: 1, Z: 1})
//	ctx.Synchronize()
package device

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Dim3 represents 3D dimensions for grid and block configurations.
type Dim3 struct {
	X, Y, Z int
}

// Size returns the total number of elements
func (d Dim3) Size() int {
	return d.X * d.Y * d.Z
}

// ThreadID identifies a thread's position within the execution hierarchy,
// mirroring CUDA's blockIdx, threadIdx, blockDim and gridDim.
type ThreadID struct {
	BlockIdx  Dim3 // Block index within the grid
	ThreadIdx Dim3 // Thread index within the block
	BlockDim  Dim3 // Dimensions of the block
	GridDim   Dim3 // Dimensions of the grid
}

// Global returns the global linear thread index along X
func (tid ThreadID) Global() int {
	return tid.BlockIdx.X*tid.BlockDim.X + tid.ThreadIdx.X
}

// GlobalX returns the global X index
func (tid ThreadID) GlobalX() int {
	return tid.BlockIdx.X*tid.BlockDim.X + tid.ThreadIdx.X
}

// GlobalY returns the global Y index
func (tid ThreadID) GlobalY() int {
	return tid.BlockIdx.Y*tid.BlockDim.Y + tid.ThreadIdx.Y
}

// GlobalZ returns the global Z index
func (tid ThreadID) GlobalZ() int {
	return tid.BlockIdx.Z*tid.BlockDim.Z + tid.ThreadIdx.Z
}

// Kernel represents a compute kernel executed in parallel across a grid.
// Execute is called concurrently from multiple worker goroutines and must
// not assume any ordering relative to other threads in the same launch.
type Kernel interface {
	Execute(tid ThreadID)
}

// KernelFunc is a function that can be launched as a kernel.
type KernelFunc func(tid ThreadID)

// Execute implements Kernel
func (fn KernelFunc) Execute(tid ThreadID) {
	fn(tid)
}

// Stream represents an ordered sequence of operations that execute
// asynchronously. Operations within a stream execute in order; operations
// in different streams may execute concurrently.
type Stream struct {
	id    int
	tasks chan func()
	done  chan struct{}
}

// Context represents an execution context for device operations. It owns
// the worker budget, the memory pool and the streams. A Context must be
// created before any operation and destroyed when no longer needed.
type Context struct {
	workers       int
	mu            sync.Mutex
	streams       map[int]*Stream
	streamID      int32
	memory        *MemoryPool
	defaultStream *Stream
	destroyed     bool
}

var (
	defaultContext *Context
	initOnce       sync.Once
)

// Default returns the shared package-level context, creating it on first use.
func Default() *Context {
	initOnce.Do(func() {
		defaultContext = NewContext()
	})
	return defaultContext
}

// NewContext creates a context using all available CPU cores as workers.
func NewContext() *Context {
	return NewContextWithWorkers(runtime.NumCPU())
}

// NewContextWithWorkers creates a context with an explicit worker budget.
// A non-positive count falls back to the number of CPU cores.
func NewContextWithWorkers(workers int) *Context {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	ctx := &Context{
		workers: workers,
		streams: make(map[int]*Stream),
		memory:  NewMemoryPool(),
	}
	ctx.defaultStream = ctx.CreateStream()
	return ctx
}

// CreateStream creates a new execution stream owned by the context
func (ctx *Context) CreateStream() *Stream {
	id := int(atomic.AddInt32(&ctx.streamID, 1))
	stream := &Stream{
		id:    id,
		tasks: make(chan func(), 64),
		done:  make(chan struct{}),
	}

	go stream.worker()

	ctx.mu.Lock()
	ctx.streams[id] = stream
	ctx.mu.Unlock()
	return stream
}

// Launch executes a kernel on the default stream. The launch is
// asynchronous; call Synchronize before reading results on the host.
func (ctx *Context) Launch(kernel Kernel, grid, block Dim3) error {
	return ctx.LaunchStream(kernel, grid, block, ctx.defaultStream)
}

// LaunchFunc executes a kernel function on the default stream
func (ctx *Context) LaunchFunc(fn KernelFunc, grid, block Dim3) error {
	return ctx.LaunchStream(fn, grid, block, ctx.defaultStream)
}

// LaunchStream executes a kernel on a specific stream
func (ctx *Context) LaunchStream(kernel Kernel, grid, block Dim3, stream *Stream) error {
	ctx.mu.Lock()
	destroyed := ctx.destroyed
	ctx.mu.Unlock()
	if destroyed || stream == nil {
		return NewInvalidArgError("Launch", "context has been destroyed")
	}
	if grid.X < 0 || grid.Y < 0 || grid.Z < 0 || block.Size() < 1 {
		return NewInvalidArgError("Launch", "grid and block dimensions must be non-negative")
	}
	return ctx.launchInternal(kernel.Execute, grid, block, stream)
}

// Synchronize waits for all streams to complete all submitted work
func (ctx *Context) Synchronize() error {
	ctx.mu.Lock()
	streams := make([]*Stream, 0, len(ctx.streams))
	for _, s := range ctx.streams {
		streams = append(streams, s)
	}
	ctx.mu.Unlock()

	for _, s := range streams {
		s.Synchronize()
	}
	return nil
}

// Destroy shuts down the context's streams. Subsequent launches fail
// with an invalid argument error. Buffers still held by the caller
// remain valid Go memory but the pool stops tracking reuse.
func (ctx *Context) Destroy() {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	for id, s := range ctx.streams {
		close(s.tasks)
		<-s.done
		delete(ctx.streams, id)
	}
	ctx.defaultStream = nil
	ctx.destroyed = true
}

// worker processes tasks for a stream in submission order
func (s *Stream) worker() {
	for task := range s.tasks {
		task()
	}
	close(s.done)
}

// Submit adds a task to the stream
func (s *Stream) Submit(task func()) {
	s.tasks <- task
}

// Synchronize waits for every task already submitted to the stream to
// complete. It enqueues a fence task and waits for the worker to reach
// it, so it is safe to call while other goroutines keep submitting.
func (s *Stream) Synchronize() {
	fence := make(chan struct{})
	s.Submit(func() { close(fence) })
	<-fence
}

// Package-level convenience wrappers over the default context

// Malloc allocates device memory from the default context
func Malloc(n int) (Buffer, error) {
	return Default().Malloc(n)
}

// Free releases device memory allocated from the default context
func Free(buf Buffer) error {
	return Default().Free(buf)
}

// Memcpy copies memory between host and device on the default context
func Memcpy(dst, src interface{}, n int, kind MemcpyKind) error {
	return Default().Memcpy(dst, src, n, kind)
}

// Launch executes a kernel on the default context's default stream
func Launch(kernel Kernel, grid, block Dim3) error {
	return Default().Launch(kernel, grid, block)
}

// Synchronize waits for all work on the default context
func Synchronize() error {
	return Default().Synchronize()
}
