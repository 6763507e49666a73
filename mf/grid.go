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
	"sort"

	"github.com/juju/errors"

	"github.com/gorse-io/blockmf/base/parallel"
)

// gridProblem cuts the rating matrix into nrBins x nrBins blocks and reorders
// the observation array in place so that every block is contiguous. The
// returned offsets have length nrBins*nrBins+1; block b spans
// prob.R[ptrs[b]:ptrs[b+1]]. Runs in O(nnz) time plus the per-block sorts.
func gridProblem(prob *Problem, nrBins int32, nJobs int) ([]int, error) {
	if prob.M <= 0 || prob.N <= 0 {
		return nil, errors.NotValidf("problem size %dx%d", prob.M, prob.N)
	}
	for i := range prob.R {
		node := &prob.R[i]
		if node.U < 0 || node.U >= prob.M || node.V < 0 || node.V >= prob.N {
			return nil, errors.NotValidf("observation %d: index (%d,%d) outside %dx%d",
				i, node.U, node.V, prob.M, prob.N)
		}
	}

	segP := (prob.M + nrBins - 1) / nrBins
	segQ := (prob.N + nrBins - 1) / nrBins
	getBlock := func(u, v int32) int32 {
		return u/segP*nrBins + v/segQ
	}

	nrBlocks := int(nrBins * nrBins)
	counts := make([]int, nrBlocks)
	for i := range prob.R {
		counts[getBlock(prob.R[i].U, prob.R[i].V)]++
	}

	ptrs := make([]int, nrBlocks+1)
	for block := 0; block < nrBlocks; block++ {
		ptrs[block+1] = ptrs[block] + counts[block]
	}

	// Cycle-leading permutation: each block keeps a write pivot; misplaced
	// observations are swapped towards their block's pivot until every pivot
	// reaches its block's end.
	pivots := make([]int, nrBlocks)
	copy(pivots, ptrs[:nrBlocks])
	for block := 0; block < nrBlocks; block++ {
		for pivot := pivots[block]; pivot != ptrs[block+1]; {
			currBlock := getBlock(prob.R[pivot].U, prob.R[pivot].V)
			if int(currBlock) == block {
				pivot++
				continue
			}
			next := pivots[currBlock]
			prob.R[pivot], prob.R[next] = prob.R[next], prob.R[pivot]
			pivots[currBlock]++
		}
	}

	// Sort each block by the longer axis so the factor matrix iterated most
	// is walked sequentially.
	_ = parallel.Parallel(nrBlocks, nJobs, func(_, block int) error {
		nodes := prob.R[ptrs[block]:ptrs[block+1]]
		if prob.M > prob.N {
			sort.Slice(nodes, func(i, j int) bool {
				if nodes[i].U != nodes[j].U {
					return nodes[i].U < nodes[j].U
				}
				return nodes[i].V < nodes[j].V
			})
		} else {
			sort.Slice(nodes, func(i, j int) bool {
				if nodes[i].V != nodes[j].V {
					return nodes[i].V < nodes[j].V
				}
				return nodes[i].U < nodes[j].U
			})
		}
		return nil
	})
	return ptrs, nil
}
