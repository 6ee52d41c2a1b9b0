package compute

import (
	"fmt"

	"surropt/pkg/device"
)

// pivotColumnDownKernel is the forward-pass leader: a single thread
// snapshots the pivot column from the pivot row downward into scratch.
// Followers launched afterwards read the snapshot, never the live matrix
// column, so their in-place row updates cannot race with this read.
func pivotColumnDownKernel(m, scratch []float64, dim, p int) device.KernelFunc {
	return func(tid device.ThreadID) {
		for i := p; i < dim; i++ {
			scratch[i] = m[i+p*dim]
		}
	}
}

// pivotColumnUpKernel is the backward-pass leader: it snapshots the pivot
// column above the pivot row.
func pivotColumnUpKernel(m, scratch []float64, dim, p int) device.KernelFunc {
	return func(tid device.ThreadID) {
		for i := 0; i < p; i++ {
			scratch[i] = m[i+p*dim]
		}
	}
}

// scaleRowsKernel divides every row at or below the pivot by that row's
// own pivot-column entry, in both the working matrix and its paired
// matrix. Rows whose pivot-column entry is zero are left untouched; they
// already have the zero the elimination is after.
func scaleRowsKernel(m, paired, scratch []float64, dim, p int) device.KernelFunc {
	return func(tid device.ThreadID) {
		i, j := tid.GlobalX(), tid.GlobalY()
		if i >= dim || j >= dim || i < p {
			return
		}
		s := scratch[i]
		if s == 0 {
			return
		}
		idx := i + j*dim
		m[idx] /= s
		paired[idx] /= s
	}
}

// pivotDownKernel subtracts the normalized pivot row from every scaled row
// below it. After scaleRowsKernel each such row has a 1 in the pivot
// column, so the plain subtraction zeroes it. The pivot row itself is
// only read here, never written.
func pivotDownKernel(m, paired, scratch []float64, dim, p int) device.KernelFunc {
	return func(tid device.ThreadID) {
		i, j := tid.GlobalX(), tid.GlobalY()
		if i >= dim || j >= dim || i <= p {
			return
		}
		if scratch[i] == 0 {
			return
		}
		idx := i + j*dim
		m[idx] -= m[p+j*dim]
		paired[idx] -= paired[p+j*dim]
	}
}

// pivotUpKernel eliminates the entries above the pivot during the
// backward pass: row i (i < p) subtracts scratch[i] times the pivot row,
// where scratch[i] is the snapshotted multiplier m[i][p].
func pivotUpKernel(m, paired, scratch []float64, dim, p int) device.KernelFunc {
	return func(tid device.ThreadID) {
		i, j := tid.GlobalX(), tid.GlobalY()
		if i >= dim || j >= dim || i >= p {
			return
		}
		idx := i + j*dim
		m[idx] -= scratch[i] * m[p+j*dim]
		paired[idx] -= scratch[i] * paired[p+j*dim]
	}
}

// invertDevice runs Gauss-Jordan elimination over device-resident buffers,
// reducing m to the identity while the paired matrix, which must start as
// the identity, accumulates the inverse. scratch needs 2*dim elements:
// the lower half holds forward-pass snapshots, the upper half backward.
//
// Cross-thread ordering within each pivot step uses the kernel-launch
// boundary as the rendezvous: the leader launch publishes its pivot-column
// snapshot before any follower thread starts, because launches on one
// stream execute strictly in order. There is no spin-wait anywhere, so a
// mis-sized grid cannot hang the engine.
func (e *Engine) invertDevice(m, paired, scratch []float64, dim int) error {
	grid := device.Dim3{X: dim, Y: dim, Z: 1}
	leaderGrid := device.Dim3{X: 1, Y: 1, Z: 1}
	block := device.Dim3{X: 1, Y: 1, Z: 1}

	down := scratch[:dim]
	up := scratch[dim:]

	// Forward pass: unit upper-triangular form
	for p := 0; p < dim; p++ {
		if err := e.ctx.Launch(pivotColumnDownKernel(m, down, dim, p), leaderGrid, block); err != nil {
			return device.NewExecutionError("Invert", "pivot column snapshot launch failed", err)
		}
		// Host reads the snapshot for the singularity check, so this
		// launch must be fully retired first.
		if err := e.ctx.Synchronize(); err != nil {
			return device.NewExecutionError("Invert", "synchronize failed", err)
		}
		// A zero pivot is unrecoverable without row swaps, so it fails
		// the whole inversion. Tiny nonzero pivots stay legal: Gaussian
		// covariances of distant sites put values like 1e-22 on the
		// diagonal and the extended system is still well conditioned.
		if down[p] == 0 {
			return device.NewNumericalError("Invert",
				fmt.Sprintf("matrix is singular: zero pivot at index %d", p))
		}

		if err := e.ctx.Launch(scaleRowsKernel(m, paired, down, dim, p), grid, block); err != nil {
			return device.NewExecutionError("Invert", "row scaling launch failed", err)
		}
		if err := e.ctx.Launch(pivotDownKernel(m, paired, down, dim, p), grid, block); err != nil {
			return device.NewExecutionError("Invert", "forward elimination launch failed", err)
		}
	}

	// Backward pass: clear the entries above each pivot
	for p := dim - 1; p >= 1; p-- {
		if err := e.ctx.Launch(pivotColumnUpKernel(m, up, dim, p), leaderGrid, block); err != nil {
			return device.NewExecutionError("Invert", "pivot column snapshot launch failed", err)
		}
		if err := e.ctx.Launch(pivotUpKernel(m, paired, up, dim, p), grid, block); err != nil {
			return device.NewExecutionError("Invert", "backward elimination launch failed", err)
		}
	}

	if err := e.ctx.Synchronize(); err != nil {
		return device.NewExecutionError("Invert", "synchronize failed", err)
	}
	return nil
}
