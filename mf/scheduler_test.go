// Copyright 2021 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mf

import (
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/atomic"

	"github.com/gorse-io/blockmf/base"
)

// runScheduler drives a scheduler through the given number of epochs with
// nrThreads workers calling onJob between getJob and putJob, mirroring the
// worker protocol of the training loop.
func runScheduler(sched *scheduler, nrThreads, epochs int, onJob func(block int32)) {
	var wg sync.WaitGroup
	wg.Add(nrThreads)
	for i := 0; i < nrThreads; i++ {
		go func() {
			defer wg.Done()
			for {
				block := sched.getJob()
				if onJob != nil {
					onJob(block)
				}
				sched.putJob(block, 0)
				if sched.isTerminated() {
					return
				}
			}
		}()
	}
	for epoch := 0; epoch < epochs; epoch++ {
		sched.waitForJobsDone()
		if epoch+1 < epochs {
			sched.resume()
		}
	}
	sched.terminate()
	wg.Wait()
}

func TestScheduler_ConflictFree(t *testing.T) {
	const (
		nrBins    = 16
		nrThreads = 8
	)
	epochs := 4000
	if testing.Short() {
		epochs = 100
	}
	sched := newScheduler(nrBins, nrThreads, nil, base.NewRandomGenerator(0))

	var mu sync.Mutex
	busyRows := make(map[int32]bool)
	busyCols := make(map[int32]bool)
	conflicts := atomic.NewInt64(0)
	handOuts := atomic.NewInt64(0)
	runScheduler(sched, nrThreads, epochs, func(block int32) {
		row, col := block/nrBins, block%nrBins
		mu.Lock()
		if busyRows[row] || busyCols[col] {
			conflicts.Inc()
		}
		busyRows[row] = true
		busyCols[col] = true
		mu.Unlock()
		handOuts.Inc()
		runtime.Gosched()
		mu.Lock()
		delete(busyRows, row)
		delete(busyCols, col)
		mu.Unlock()
	})
	assert.Zero(t, conflicts.Load())
	assert.Equal(t, int64(epochs*nrBins*nrBins), handOuts.Load())
}

func TestScheduler_Fairness(t *testing.T) {
	const (
		nrBins = 4
		epochs = 10
	)
	sched := newScheduler(nrBins, 1, nil, base.NewRandomGenerator(0))
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			block := sched.getJob()
			sched.putJob(block, 0)
			if sched.isTerminated() {
				return
			}
		}
	}()
	for epoch := 0; epoch < epochs; epoch++ {
		sched.waitForJobsDone()
		// every block has been visited exactly once more
		for block := int32(0); block < nrBins*nrBins; block++ {
			assert.Equal(t, epoch+1, sched.visitCount(block))
		}
		if epoch+1 < epochs {
			sched.resume()
		}
	}
	sched.terminate()
	wg.Wait()
}

func TestScheduler_HeldOutBlocks(t *testing.T) {
	const nrBins = 4
	heldOut := []int32{0, 5, 10, 15}
	sched := newScheduler(nrBins, 2, heldOut, base.NewRandomGenerator(0))
	visited := make([]*atomic.Int64, nrBins*nrBins)
	for i := range visited {
		visited[i] = atomic.NewInt64(0)
	}
	runScheduler(sched, 2, 4, func(block int32) {
		visited[block].Inc()
	})
	var total int64
	for block, v := range visited {
		total += v.Load()
		for _, h := range heldOut {
			if int32(block) == h {
				assert.Zero(t, v.Load())
			}
		}
	}
	// held-out blocks never run; the epoch quota is filled by extra visits
	// to the remaining blocks, and the second worker may complete one job
	// that was in flight when the final quota was reached
	assert.GreaterOrEqual(t, total, int64(4*nrBins*nrBins))
	assert.LessOrEqual(t, total, int64(4*nrBins*nrBins+1))
}

func TestScheduler_Loss(t *testing.T) {
	const nrBins = 2
	sched := newScheduler(nrBins, 1, nil, base.NewRandomGenerator(0))
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			block := sched.getJob()
			sched.putJob(block, 1)
			if sched.isTerminated() {
				return
			}
		}
	}()
	sched.waitForJobsDone()
	assert.Equal(t, float64(nrBins*nrBins), sched.getLoss())
	sched.terminate()
	wg.Wait()
}
