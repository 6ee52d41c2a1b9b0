// Package compute implements the dense linear algebra behind the Kriging
// surrogate engine as data-parallel kernels over flattened column-major
// float64 matrices, plus the host orchestration that moves operands across
// the host/device boundary around each launch.
//
// Every kernel here is a pure per-element operation on the logical index
// idx = row + col*dim; no kernel depends on execution order relative to
// other threads in the same launch. The one order-sensitive algorithm,
// Gauss-Jordan inversion, lives in inversion.go.
package compute

import (
	"math"

	"surropt/pkg/device"
)

// squaredDistanceKernel computes out = (a - b)^2 elementwise over a
// dim×dim grid.
func squaredDistanceKernel(a, b, out []float64, dim int) device.KernelFunc {
	return func(tid device.ThreadID) {
		i, j := tid.GlobalX(), tid.GlobalY()
		if i >= dim || j >= dim {
			return
		}
		idx := i + j*dim
		d := a[idx] - b[idx]
		out[idx] = d * d
	}
}

// squaredDistanceVectorKernel is the vector variant: the column index is
// fixed to 0 and only the row dimension is iterated, so the launch grid is
// (dim, 1). Operands are vector-as-matrix buffers whose padding columns
// the caller keeps zeroed.
func squaredDistanceVectorKernel(a, b, out []float64, dim int) device.KernelFunc {
	return func(tid device.ThreadID) {
		i := tid.GlobalX()
		if i >= dim {
			return
		}
		d := a[i] - b[i]
		out[i] = d * d
	}
}

// gaussCorrelationKernel maps a squared-distance entry to a Gaussian
// correlation: out = (variance - nugget) * exp(-theta * dist).
func gaussCorrelationKernel(dist, out []float64, dim int, theta, variance, nugget float64) device.KernelFunc {
	sill := variance - nugget
	return func(tid device.ThreadID) {
		i, j := tid.GlobalX(), tid.GlobalY()
		if i >= dim || j >= dim {
			return
		}
		idx := i + j*dim
		out[idx] = sill * math.Exp(-theta*dist[idx])
	}
}

// normalizeKernel divides every element by a scalar
func normalizeKernel(in, out []float64, dim int, value float64) device.KernelFunc {
	return func(tid device.ThreadID) {
		i, j := tid.GlobalX(), tid.GlobalY()
		if i >= dim || j >= dim {
			return
		}
		idx := i + j*dim
		out[idx] = in[idx] / value
	}
}

// identityKernel writes the dim×dim identity. Under column-major
// flattening the diagonal is exactly the indices divisible by dim+1.
func identityKernel(out []float64, dim int) device.KernelFunc {
	return func(tid device.ThreadID) {
		i, j := tid.GlobalX(), tid.GlobalY()
		if i >= dim || j >= dim {
			return
		}
		idx := i + j*dim
		if idx%(dim+1) == 0 {
			out[idx] = 1
		} else {
			out[idx] = 0
		}
	}
}

// extendKernel embeds a dim×dim matrix in an (dim+1)×(dim+1) output whose
// last row and column are 1 except for a 0 corner. This is the Lagrange
// augmentation that forces Kriging weights to sum to one. The launch grid
// covers the extended shape.
func extendKernel(in, out []float64, dim int) device.KernelFunc {
	ext := dim + 1
	return func(tid device.ThreadID) {
		i, j := tid.GlobalX(), tid.GlobalY()
		if i >= ext || j >= ext {
			return
		}
		idx := i + j*ext
		switch {
		case i == dim && j == dim:
			out[idx] = 0
		case i == dim || j == dim:
			out[idx] = 1
		default:
			out[idx] = in[i+j*dim]
		}
	}
}

// matMulKernel computes one element of out = a × b per thread, with the
// column-major dot product out[i,j] = sum_k a[i,k]*b[k,j]. No tiling;
// operands stay in the flat buffers.
func matMulKernel(a, b, out []float64, dim int) device.KernelFunc {
	return func(tid device.ThreadID) {
		row, col := tid.GlobalX(), tid.GlobalY()
		if row >= dim || col >= dim {
			return
		}
		sum := 0.0
		for k := 0; k < dim; k++ {
			sum += a[row+k*dim] * b[k+col*dim]
		}
		out[row+col*dim] = sum
	}
}
