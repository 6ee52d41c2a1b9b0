package compute

import (
	"fmt"

	"surropt/pkg/device"
)

// Engine composes the kernels into host-callable operations. Every
// operation validates its operands, stages them into device buffers,
// launches, synchronizes, copies the result back and releases all device
// allocations on every path. Host output slices are freshly allocated and
// written only after a successful device-to-host copy, so no operation
// partially mutates caller-visible memory on failure.
type Engine struct {
	ctx *device.Context
}

// NewEngine creates an engine on the given context. A nil context uses
// the shared default.
func NewEngine(ctx *device.Context) *Engine {
	if ctx == nil {
		ctx = device.Default()
	}
	return &Engine{ctx: ctx}
}

var unitBlock = device.Dim3{X: 1, Y: 1, Z: 1}

func matrixGrid(dim int) device.Dim3 {
	return device.Dim3{X: dim, Y: dim, Z: 1}
}

func vectorGrid(dim int) device.Dim3 {
	return device.Dim3{X: dim, Y: 1, Z: 1}
}

// checkDim rejects non-positive dimensions before any device work
func checkDim(op string, dim int) error {
	if dim < 1 {
		return device.NewInvalidArgError(op, fmt.Sprintf("dimension must be positive, got %d", dim))
	}
	return nil
}

// checkSquare rejects buffers that are not exactly dim*dim elements
func checkSquare(op, name string, buf []float64, dim int) error {
	if len(buf) != dim*dim {
		return device.NewInvalidArgError(op,
			fmt.Sprintf("%s buffer has %d elements, want %d for dimension %d", name, len(buf), dim*dim, dim))
	}
	return nil
}

// stage allocates a device buffer of n elements and optionally copies a
// host operand into it.
func (e *Engine) stage(op string, host []float64, n int) (device.Buffer, error) {
	buf, err := e.ctx.Malloc(n)
	if err != nil {
		return device.Buffer{}, fmt.Errorf("%s: allocating device buffer: %w", op, err)
	}
	if host != nil {
		if err := e.ctx.Memcpy(buf, host, n, device.MemcpyHostToDevice); err != nil {
			e.ctx.Free(buf)
			return device.Buffer{}, fmt.Errorf("%s: host to device copy: %w", op, err)
		}
	}
	return buf, nil
}

// retrieve synchronizes and copies a device result into a fresh host slice
func (e *Engine) retrieve(op string, buf device.Buffer, n int) ([]float64, error) {
	if err := e.ctx.Synchronize(); err != nil {
		return nil, fmt.Errorf("%s: synchronize: %w", op, err)
	}
	out := make([]float64, n)
	if err := e.ctx.Memcpy(out, buf, n, device.MemcpyDeviceToHost); err != nil {
		return nil, fmt.Errorf("%s: device to host copy: %w", op, err)
	}
	return out, nil
}

// Identity builds the dim×dim identity matrix on the device
func (e *Engine) Identity(dim int) ([]float64, error) {
	const op = "Identity"
	if err := checkDim(op, dim); err != nil {
		return nil, err
	}

	dOut, err := e.stage(op, nil, dim*dim)
	if err != nil {
		return nil, err
	}
	defer e.ctx.Free(dOut)

	if err := e.ctx.Launch(identityKernel(dOut.Float64(), dim), matrixGrid(dim), unitBlock); err != nil {
		return nil, device.NewExecutionError(op, "kernel launch failed", err)
	}
	return e.retrieve(op, dOut, dim*dim)
}

// Distance computes the elementwise squared distance between two dim×dim
// matrices.
func (e *Engine) Distance(a, b []float64, dim int) ([]float64, error) {
	const op = "Distance"
	if err := checkDim(op, dim); err != nil {
		return nil, err
	}
	if err := checkSquare(op, "first", a, dim); err != nil {
		return nil, err
	}
	if err := checkSquare(op, "second", b, dim); err != nil {
		return nil, err
	}

	dA, err := e.stage(op, a, dim*dim)
	if err != nil {
		return nil, err
	}
	defer e.ctx.Free(dA)
	dB, err := e.stage(op, b, dim*dim)
	if err != nil {
		return nil, err
	}
	defer e.ctx.Free(dB)
	dOut, err := e.stage(op, nil, dim*dim)
	if err != nil {
		return nil, err
	}
	defer e.ctx.Free(dOut)

	kernel := squaredDistanceKernel(dA.Float64(), dB.Float64(), dOut.Float64(), dim)
	if err := e.ctx.Launch(kernel, matrixGrid(dim), unitBlock); err != nil {
		return nil, device.NewExecutionError(op, "kernel launch failed", err)
	}
	return e.retrieve(op, dOut, dim*dim)
}

// DistanceVector computes the squared distance between the first columns
// of two vector-as-matrix operands. The output is a vector-as-matrix
// buffer whose padding columns are zero.
func (e *Engine) DistanceVector(a, b []float64, dim int) ([]float64, error) {
	const op = "DistanceVector"
	if err := checkDim(op, dim); err != nil {
		return nil, err
	}
	if err := checkSquare(op, "first", a, dim); err != nil {
		return nil, err
	}
	if err := checkSquare(op, "second", b, dim); err != nil {
		return nil, err
	}

	dA, err := e.stage(op, a, dim*dim)
	if err != nil {
		return nil, err
	}
	defer e.ctx.Free(dA)
	dB, err := e.stage(op, b, dim*dim)
	if err != nil {
		return nil, err
	}
	defer e.ctx.Free(dB)
	dOut, err := e.stage(op, nil, dim*dim)
	if err != nil {
		return nil, err
	}
	defer e.ctx.Free(dOut)

	kernel := squaredDistanceVectorKernel(dA.Float64(), dB.Float64(), dOut.Float64(), dim)
	if err := e.ctx.Launch(kernel, vectorGrid(dim), unitBlock); err != nil {
		return nil, device.NewExecutionError(op, "kernel launch failed", err)
	}
	return e.retrieve(op, dOut, dim*dim)
}

// Correlate applies the Gaussian correlation kernel to a squared-distance
// matrix: out = (variance - nugget) * exp(-theta * dist).
func (e *Engine) Correlate(dist []float64, dim int, theta, variance, nugget float64) ([]float64, error) {
	const op = "Correlate"
	if err := checkDim(op, dim); err != nil {
		return nil, err
	}
	if err := checkSquare(op, "distance", dist, dim); err != nil {
		return nil, err
	}

	dIn, err := e.stage(op, dist, dim*dim)
	if err != nil {
		return nil, err
	}
	defer e.ctx.Free(dIn)
	dOut, err := e.stage(op, nil, dim*dim)
	if err != nil {
		return nil, err
	}
	defer e.ctx.Free(dOut)

	kernel := gaussCorrelationKernel(dIn.Float64(), dOut.Float64(), dim, theta, variance, nugget)
	if err := e.ctx.Launch(kernel, matrixGrid(dim), unitBlock); err != nil {
		return nil, device.NewExecutionError(op, "kernel launch failed", err)
	}
	return e.retrieve(op, dOut, dim*dim)
}

// Normalize divides every element of a dim×dim matrix by value
func (e *Engine) Normalize(a []float64, dim int, value float64) ([]float64, error) {
	const op = "Normalize"
	if err := checkDim(op, dim); err != nil {
		return nil, err
	}
	if err := checkSquare(op, "input", a, dim); err != nil {
		return nil, err
	}
	if value == 0 {
		return nil, device.NewNumericalError(op, "normalizing value is zero")
	}

	dIn, err := e.stage(op, a, dim*dim)
	if err != nil {
		return nil, err
	}
	defer e.ctx.Free(dIn)
	dOut, err := e.stage(op, nil, dim*dim)
	if err != nil {
		return nil, err
	}
	defer e.ctx.Free(dOut)

	kernel := normalizeKernel(dIn.Float64(), dOut.Float64(), dim, value)
	if err := e.ctx.Launch(kernel, matrixGrid(dim), unitBlock); err != nil {
		return nil, device.NewExecutionError(op, "kernel launch failed", err)
	}
	return e.retrieve(op, dOut, dim*dim)
}

// Extend pads a dim×dim matrix with the unbiasedness constraint row and
// column: the result is (dim+1)×(dim+1) with ones along the new border
// and a zero corner.
func (e *Engine) Extend(a []float64, dim int) ([]float64, error) {
	const op = "Extend"
	if err := checkDim(op, dim); err != nil {
		return nil, err
	}
	if err := checkSquare(op, "input", a, dim); err != nil {
		return nil, err
	}
	ext := dim + 1

	dIn, err := e.stage(op, a, dim*dim)
	if err != nil {
		return nil, err
	}
	defer e.ctx.Free(dIn)
	dOut, err := e.stage(op, nil, ext*ext)
	if err != nil {
		return nil, err
	}
	defer e.ctx.Free(dOut)

	kernel := extendKernel(dIn.Float64(), dOut.Float64(), dim)
	if err := e.ctx.Launch(kernel, matrixGrid(ext), unitBlock); err != nil {
		return nil, device.NewExecutionError(op, "kernel launch failed", err)
	}
	return e.retrieve(op, dOut, ext*ext)
}

// MatMul computes the dense product a × b of two dim×dim column-major
// matrices, one output element per thread.
func (e *Engine) MatMul(a, b []float64, dim int) ([]float64, error) {
	const op = "MatMul"
	if err := checkDim(op, dim); err != nil {
		return nil, err
	}
	if err := checkSquare(op, "first", a, dim); err != nil {
		return nil, err
	}
	if err := checkSquare(op, "second", b, dim); err != nil {
		return nil, err
	}

	dA, err := e.stage(op, a, dim*dim)
	if err != nil {
		return nil, err
	}
	defer e.ctx.Free(dA)
	dB, err := e.stage(op, b, dim*dim)
	if err != nil {
		return nil, err
	}
	defer e.ctx.Free(dB)
	dOut, err := e.stage(op, nil, dim*dim)
	if err != nil {
		return nil, err
	}
	defer e.ctx.Free(dOut)

	kernel := matMulKernel(dA.Float64(), dB.Float64(), dOut.Float64(), dim)
	if err := e.ctx.Launch(kernel, matrixGrid(dim), unitBlock); err != nil {
		return nil, device.NewExecutionError(op, "kernel launch failed", err)
	}
	return e.retrieve(op, dOut, dim*dim)
}

// Invert computes the inverse of a dim×dim matrix via the parallel
// Gauss-Jordan engine. identity is the paired buffer the elimination
// transforms into the inverse; it must hold the dim×dim identity, which
// the Identity operation produces. A matrix whose elimination hits a
// zero pivot fails with a numerical error
// rather than returning a silently wrong result.
func (e *Engine) Invert(a, identity []float64, dim int) ([]float64, error) {
	const op = "Invert"
	if err := checkDim(op, dim); err != nil {
		return nil, err
	}
	if err := checkSquare(op, "input", a, dim); err != nil {
		return nil, err
	}
	if err := checkSquare(op, "identity", identity, dim); err != nil {
		return nil, err
	}

	dM, err := e.stage(op, a, dim*dim)
	if err != nil {
		return nil, err
	}
	defer e.ctx.Free(dM)
	dPaired, err := e.stage(op, identity, dim*dim)
	if err != nil {
		return nil, err
	}
	defer e.ctx.Free(dPaired)
	dScratch, err := e.stage(op, nil, 2*dim)
	if err != nil {
		return nil, err
	}
	defer e.ctx.Free(dScratch)

	if err := e.invertDevice(dM.Float64(), dPaired.Float64(), dScratch.Float64(), dim); err != nil {
		return nil, err
	}
	return e.retrieve(op, dPaired, dim*dim)
}
