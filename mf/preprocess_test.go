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

	"github.com/gorse-io/blockmf/base"
)

func TestCalcStdDev(t *testing.T) {
	prob := &Problem{M: 2, N: 2, R: []Node{
		{U: 0, V: 0, R: 1},
		{U: 0, V: 1, R: 2},
		{U: 1, V: 0, R: 3},
		{U: 1, V: 1, R: 4},
	}}
	assert.InDelta(t, 1.118034, calcStdDev(prob, 2), 1e-5)
	assert.Zero(t, calcStdDev(&Problem{}, 1))
}

func TestScaleProblem(t *testing.T) {
	prob := newRandomProblem(10, 10, 100, 0)
	original := make([]Node, len(prob.R))
	copy(original, prob.R)
	stdDev := calcStdDev(prob, 1)
	scaleProblem(prob, 1/stdDev, 2)
	scaleProblem(prob, stdDev, 2)
	for i := range prob.R {
		assert.InDelta(t, original[i].R, prob.R[i].R, 1e-5)
	}
}

func TestShuffleProblem(t *testing.T) {
	rng := base.NewRandomGenerator(0)
	prob := newRandomProblem(20, 30, 200, 0)
	original := make([]Node, len(prob.R))
	copy(original, prob.R)
	pMap := rng.Permutation(prob.M)
	qMap := rng.Permutation(prob.N)
	shuffleProblem(prob, pMap, qMap, 2)
	shuffleProblem(prob, invPermutation(pMap), invPermutation(qMap), 2)
	assert.Equal(t, original, prob.R)
}

func TestShuffleProblem_OutOfRange(t *testing.T) {
	// indices beyond the map range are left untouched
	prob := &Problem{M: 10, N: 10, R: []Node{{U: 5, V: 7, R: 1}}}
	shuffleProblem(prob, []int32{0, 1}, []int32{0, 1}, 1)
	assert.Equal(t, Node{U: 5, V: 7, R: 1}, prob.R[0])
}

func TestInvPermutation(t *testing.T) {
	rng := base.NewRandomGenerator(0)
	perm := rng.Permutation(100)
	inv := invPermutation(perm)
	for i, v := range perm {
		assert.Equal(t, int32(i), inv[v])
	}
}

func TestCopyProblem(t *testing.T) {
	prob := newRandomProblem(10, 10, 100, 0)
	clone := copyProblem(prob, true)
	clone.R[0].R = -1
	assert.NotEqual(t, prob.R[0].R, clone.R[0].R)
	alias := copyProblem(prob, false)
	alias.R[0].R = -1
	assert.Equal(t, prob.R[0].R, alias.R[0].R)
	empty := copyProblem(nil, true)
	assert.Zero(t, empty.NNZ())
}
