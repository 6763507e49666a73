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
	"sync"

	"github.com/bits-and-blooms/bitset"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/samber/lo"
	"go.uber.org/atomic"

	"github.com/gorse-io/blockmf/base"
	"github.com/gorse-io/blockmf/base/heap"
)

// scheduler hands out grid blocks to workers such that two running blocks
// never share a row strip or a column strip, which is what lets the update
// kernel write factor rows without any locking. Blocks are prioritized by
// visit count with a uniform fractional tie-break, so visits stay balanced
// across the non-held-out blocks and the visiting order never phase-locks.
// Each epoch grants nrBins*nrBins completions: with held-out blocks the
// remaining blocks are revisited to fill that quota, and blocks already
// running when the quota is reached still complete and count towards the
// next epoch.
type scheduler struct {
	nrBins     int32
	nrThreads  int
	doneJobs   int
	target     int
	paused     int
	terminated *atomic.Bool
	counts     []int
	busyP      *bitset.BitSet
	busyQ      *bitset.BitSet
	blockLoss  []float64
	heldOut    mapset.Set[int32]
	pq         *heap.PriorityQueue
	rng        base.RandomGenerator

	mu   sync.Mutex
	cond *sync.Cond
}

func newScheduler(nrBins int32, nrThreads int, heldOut []int32, rng base.RandomGenerator) *scheduler {
	nrBlocks := int(nrBins * nrBins)
	s := &scheduler{
		nrBins:     nrBins,
		nrThreads:  nrThreads,
		target:     nrBlocks,
		terminated: atomic.NewBool(false),
		counts:     make([]int, nrBlocks),
		busyP:      bitset.New(uint(nrBins)),
		busyQ:      bitset.New(uint(nrBins)),
		blockLoss:  make([]float64, nrBlocks),
		heldOut:    mapset.NewThreadUnsafeSet(heldOut...),
		pq:         heap.NewPriorityQueue(false),
		rng:        rng,
	}
	s.cond = sync.NewCond(&s.mu)
	for block := int32(0); block < int32(nrBlocks); block++ {
		if !s.heldOut.Contains(block) {
			s.pq.Push(block, rng.Float64())
		}
	}
	return s
}

// getJob returns the id of a block whose row strip and column strip are both
// idle, marks the strips busy and counts the visit. Conflicting blocks are
// set aside and re-pushed once a compatible block is found; with at least two
// non-held-out blocks per worker on each axis, one is always available.
func (s *scheduler) getJob() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var lockedBlocks []heap.Elem[int32, float64]
	for {
		if s.pq.Len() == 0 {
			// Unreachable while nrBins >= 2*nrThreads: at most nrThreads
			// strips of each axis are busy at once.
			panic("scheduler starved: no conflict-free block available")
		}
		block, priority := s.pq.Pop()
		pBlock := uint(block / s.nrBins)
		qBlock := uint(block % s.nrBins)
		if s.busyP.Test(pBlock) || s.busyQ.Test(qBlock) {
			lockedBlocks = append(lockedBlocks, heap.Elem[int32, float64]{Value: block, Weight: priority})
			continue
		}
		for _, locked := range lockedBlocks {
			s.pq.Push(locked.Value, locked.Weight)
		}
		s.busyP.Set(pBlock)
		s.busyQ.Set(qBlock)
		s.counts[block]++
		return block
	}
}

// putJob returns a finished block with its loss, re-enqueues it with priority
// visit count plus a uniform tie-break, and parks the caller while the epoch
// target has been reached.
func (s *scheduler) putJob(block int32, loss float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busyP.Clear(uint(block / s.nrBins))
	s.busyQ.Clear(uint(block % s.nrBins))
	s.blockLoss[block] = loss
	s.doneJobs++
	s.pq.Push(block, float64(s.counts[block])+s.rng.Float64())
	s.paused++
	s.cond.Broadcast()
	for s.doneJobs >= s.target && !s.terminated.Load() {
		s.cond.Wait()
	}
	s.paused--
}

// getLoss returns the training loss of the most recent completed epoch when
// called between waitForJobsDone and resume.
func (s *scheduler) getLoss() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.Sum(s.blockLoss)
}

// waitForJobsDone blocks the driver until the epoch target is reached and
// every worker has parked in putJob.
func (s *scheduler) waitForJobsDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.doneJobs < s.target {
		s.cond.Wait()
	}
	for s.paused != s.nrThreads {
		s.cond.Wait()
	}
}

// resume grants one more epoch of scheduling credit and wakes the workers.
func (s *scheduler) resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target += int(s.nrBins * s.nrBins)
	s.cond.Broadcast()
}

// terminate makes workers exit after their next putJob, and unparks workers
// waiting on an exhausted target.
func (s *scheduler) terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminated.Store(true)
	s.cond.Broadcast()
}

func (s *scheduler) isTerminated() bool {
	return s.terminated.Load()
}

// visitCount returns how many times a block has been scheduled.
func (s *scheduler) visitCount(block int32) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[block]
}
