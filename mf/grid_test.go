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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gorse-io/blockmf/base"
)

func newRandomProblem(m, n int32, nnz int, seed int64) *Problem {
	rng := base.NewRandomGenerator(seed)
	prob := &Problem{M: m, N: n, R: make([]Node, nnz)}
	for i := range prob.R {
		prob.R[i] = Node{
			U: rng.Int31n(m),
			V: rng.Int31n(n),
			R: rng.Float32()*4 + 1,
		}
	}
	return prob
}

func TestGridProblem(t *testing.T) {
	const nrBins = 4
	prob := newRandomProblem(100, 80, 1000, 0)
	original := make([]Node, len(prob.R))
	copy(original, prob.R)

	ptrs, err := gridProblem(prob, nrBins, 2)
	require.NoError(t, err)
	require.Len(t, ptrs, nrBins*nrBins+1)
	assert.Equal(t, 0, ptrs[0])
	assert.Equal(t, prob.NNZ(), ptrs[nrBins*nrBins])

	// every observation lies inside its block's rectangle
	segP := (prob.M + nrBins - 1) / nrBins
	segQ := (prob.N + nrBins - 1) / nrBins
	for block := 0; block < nrBins*nrBins; block++ {
		assert.LessOrEqual(t, ptrs[block], ptrs[block+1])
		for i := ptrs[block]; i < ptrs[block+1]; i++ {
			node := prob.R[i]
			assert.Equal(t, int32(block), node.U/segP*nrBins+node.V/segQ)
		}
	}

	// blocks are sorted by the longer axis (m > n here)
	for block := 0; block < nrBins*nrBins; block++ {
		for i := ptrs[block] + 1; i < ptrs[block+1]; i++ {
			prev, curr := prob.R[i-1], prob.R[i]
			ordered := prev.U < curr.U || (prev.U == curr.U && prev.V <= curr.V)
			assert.True(t, ordered)
		}
	}

	// the observation array is a permutation of its initial contents
	count := func(nodes []Node) map[Node]int {
		c := make(map[Node]int)
		for _, node := range nodes {
			c[node]++
		}
		return c
	}
	assert.Equal(t, count(original), count(prob.R))
}

func TestGridProblem_SortByItem(t *testing.T) {
	prob := newRandomProblem(50, 200, 500, 1)
	ptrs, err := gridProblem(prob, 2, 1)
	require.NoError(t, err)
	for block := 0; block < 4; block++ {
		for i := ptrs[block] + 1; i < ptrs[block+1]; i++ {
			prev, curr := prob.R[i-1], prob.R[i]
			ordered := prev.V < curr.V || (prev.V == curr.V && prev.U <= curr.U)
			assert.True(t, ordered)
		}
	}
}

func TestGridProblem_IndexOutOfRange(t *testing.T) {
	prob := &Problem{M: 10, N: 10, R: []Node{{U: 10, V: 0, R: 1}}}
	_, err := gridProblem(prob, 2, 1)
	assert.Error(t, err)
	prob = &Problem{M: 10, N: 10, R: []Node{{U: 0, V: -1, R: 1}}}
	_, err = gridProblem(prob, 2, 1)
	assert.Error(t, err)
}
