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
	"github.com/chewxy/math32"

	"github.com/gorse-io/blockmf/base/parallel"
)

const batchSize = 8192

// copyProblem clones the problem header. When copyData is set, the
// observation array is cloned too, so training never mutates the caller's
// data.
func copyProblem(prob *Problem, copyData bool) *Problem {
	if prob == nil {
		return &Problem{}
	}
	newProb := &Problem{M: prob.M, N: prob.N}
	if copyData {
		newProb.R = make([]Node, len(prob.R))
		copy(newProb.R, prob.R)
	} else {
		newProb.R = prob.R
	}
	return newProb
}

// calcStdDev returns the population standard deviation of the ratings.
func calcStdDev(prob *Problem, nJobs int) float32 {
	if prob.NNZ() == 0 {
		return 0
	}
	sums := make([]float64, nJobs)
	_ = parallel.BatchParallel(prob.NNZ(), nJobs, batchSize, func(workerId, begin, end int) error {
		var sum float64
		for i := begin; i < end; i++ {
			sum += float64(prob.R[i].R)
		}
		sums[workerId] += sum
		return nil
	})
	var avg float64
	for _, sum := range sums {
		avg += sum
	}
	avg /= float64(prob.NNZ())

	devs := make([]float64, nJobs)
	_ = parallel.BatchParallel(prob.NNZ(), nJobs, batchSize, func(workerId, begin, end int) error {
		var dev float64
		for i := begin; i < end; i++ {
			d := float64(prob.R[i].R) - avg
			dev += d * d
		}
		devs[workerId] += dev
		return nil
	})
	var stdDev float64
	for _, dev := range devs {
		stdDev += dev
	}
	return math32.Sqrt(float32(stdDev / float64(prob.NNZ())))
}

// scaleProblem multiplies every rating in place.
func scaleProblem(prob *Problem, scale float32, nJobs int) {
	_ = parallel.BatchParallel(prob.NNZ(), nJobs, batchSize, func(_, begin, end int) error {
		for i := begin; i < end; i++ {
			prob.R[i].R *= scale
		}
		return nil
	})
}

// shuffleProblem rewrites user and item indices through the given maps.
// Indices outside the map range are left untouched, so a validation problem
// may reference users or items absent from the training problem.
func shuffleProblem(prob *Problem, pMap, qMap []int32, nJobs int) {
	_ = parallel.BatchParallel(prob.NNZ(), nJobs, batchSize, func(_, begin, end int) error {
		for i := begin; i < end; i++ {
			node := &prob.R[i]
			if node.U >= 0 && int(node.U) < len(pMap) {
				node.U = pMap[node.U]
			}
			if node.V >= 0 && int(node.V) < len(qMap) {
				node.V = qMap[node.V]
			}
		}
		return nil
	})
}

// invPermutation returns the inverse of a permutation.
func invPermutation(perm []int32) []int32 {
	inv := make([]int32, len(perm))
	for i, v := range perm {
		inv[v] = int32(i)
	}
	return inv
}
