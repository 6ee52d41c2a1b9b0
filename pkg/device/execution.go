package device

import (
	"sync"
)

// launchInternal implements the core kernel execution logic. The grid is
// split across the context's workers; every thread of the launch has run
// to completion before the submitted stream task finishes, which is what
// makes a launch boundary a device-wide barrier for subsequent launches
// on the same stream.
func (ctx *Context) launchInternal(
	kernelFunc func(ThreadID),
	grid, block Dim3,
	stream *Stream,
) error {
	gridSize := grid.Size()
	blockSize := block.Size()

	if gridSize == 0 {
		// Submit an empty task to maintain stream ordering
		stream.Submit(func() {})
		return nil
	}

	numWorkers := ctx.workers
	if gridSize < numWorkers {
		numWorkers = gridSize
	}

	// Each worker processes a contiguous range of blocks so threads that
	// touch neighbouring matrix elements stay on the same core.
	blocksPerWorker := (gridSize + numWorkers - 1) / numWorkers

	stream.Submit(func() {
		var wg sync.WaitGroup
		wg.Add(numWorkers)

		for workerID := 0; workerID < numWorkers; workerID++ {
			startBlock := workerID * blocksPerWorker
			endBlock := startBlock + blocksPerWorker
			if endBlock > gridSize {
				endBlock = gridSize
			}

			go func(startBlock, endBlock int) {
				defer wg.Done()

				for blockID := startBlock; blockID < endBlock; blockID++ {
					blockIdx := linearTo3D(blockID, grid)

					// Threads within a block run sequentially on this worker
					for threadID := 0; threadID < blockSize; threadID++ {
						threadIdx := linearTo3D(threadID, block)

						kernelFunc(ThreadID{
							BlockIdx:  blockIdx,
							ThreadIdx: threadIdx,
							BlockDim:  block,
							GridDim:   grid,
						})
					}
				}
			}(startBlock, endBlock)
		}

		wg.Wait()
	})

	return nil
}

// linearTo3D converts a linear index to 3D coordinates
func linearTo3D(linear int, dim Dim3) Dim3 {
	z := linear / (dim.X * dim.Y)
	y := (linear % (dim.X * dim.Y)) / dim.X
	x := linear % dim.X
	return Dim3{X: x, Y: y, Z: z}
}
