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

	"github.com/gorse-io/blockmf/common/floats"
)

func TestSGUpdate(t *testing.T) {
	p := []float32{0.5, -0.5, 0.25, 0}
	q := []float32{0.25, 0.5, -0.25, 0}
	pG, qG := float32(1), float32(1)
	var eta, lambda, err, rk float32 = 0.1, 0.05, 0.2, 0.25

	expectedP := make([]float32, len(p))
	expectedQ := make([]float32, len(q))
	etaP := eta * floats.InvSqrt(pG)
	etaQ := eta * floats.InvSqrt(qG)
	var pG1, qG1 float32
	for d := range p {
		gp := lambda*p[d] - err*q[d]
		gq := lambda*q[d] - err*p[d]
		pG1 += gp * gp
		qG1 += gq * gq
		expectedP[d] = p[d] - etaP*gp
		expectedQ[d] = q[d] - etaQ*gq
	}
	expectedPG := pG + pG1*rk
	expectedQG := qG + qG1*rk

	sgUpdate(p, q, &pG, &qG, eta, lambda, err, rk, false)
	assert.Equal(t, expectedP, p)
	assert.Equal(t, expectedQ, q)
	assert.Equal(t, expectedPG, pG)
	assert.Equal(t, expectedQG, qG)
}

func TestSGUpdate_PaddingStaysZero(t *testing.T) {
	// zero lanes in both rows produce zero gradients and remain zero
	p := []float32{0.5, 0.25, 0, 0, 0, 0, 0, 0}
	q := []float32{0.25, 0.5, 0, 0, 0, 0, 0, 0}
	pG, qG := float32(1), float32(1)
	for i := 0; i < 100; i++ {
		sgUpdate(p, q, &pG, &qG, 0.1, 0.05, 0.3, 0.125, false)
	}
	for d := 2; d < 8; d++ {
		assert.Zero(t, p[d])
		assert.Zero(t, q[d])
	}
	assert.Greater(t, pG, float32(1))
	assert.Greater(t, qG, float32(1))
}

func TestSGUpdate_NonNegative(t *testing.T) {
	p := []float32{0.01, 0.01}
	q := []float32{0.5, 0.5}
	pG, qG := float32(1), float32(1)
	// a large negative error drives entries towards zero; the clamp holds
	for i := 0; i < 10; i++ {
		sgUpdate(p, q, &pG, &qG, 0.5, 0, -10, 0.5, true)
	}
	for d := range p {
		assert.GreaterOrEqual(t, p[d], float32(0))
		assert.GreaterOrEqual(t, q[d], float32(0))
	}
}
