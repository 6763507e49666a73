// Copyright 2020 gorse Project Authors
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

package base

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRangeInt(t *testing.T) {
	assert.Equal(t, []int{0, 1, 2}, RangeInt(3))
	assert.Equal(t, []int32{0, 1, 2}, RangeInt32(3))
}

func TestRepeatFloat32s(t *testing.T) {
	assert.Equal(t, []float32{1, 1, 1}, RepeatFloat32s(3, 1))
}

func TestNewMatrix32(t *testing.T) {
	mat := NewMatrix32(2, 3)
	assert.Len(t, mat, 2)
	assert.Len(t, mat[0], 3)
}

func TestCheckPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		defer CheckPanic()
		panic("recovered")
	})
}
