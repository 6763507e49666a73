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
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gorse-io/blockmf/base"
)

func newRandomModel(m, n, k int32, seed int64) *Model {
	rng := base.NewRandomGenerator(seed)
	return &Model{
		M: m, N: n, K: k,
		P: rng.UniformVector(int(m)*int(k), -1, 1),
		Q: rng.UniformVector(int(n)*int(k), -1, 1),
	}
}

func TestModelReadWrite(t *testing.T) {
	m := newRandomModel(10, 8, 4, 0)
	buf := bytes.NewBuffer(nil)
	require.NoError(t, WriteModel(buf, m))
	loaded, err := ReadModel(buf)
	require.NoError(t, err)
	assert.Equal(t, m.M, loaded.M)
	assert.Equal(t, m.N, loaded.N)
	assert.Equal(t, m.K, loaded.K)
	assert.Equal(t, m.P, loaded.P)
	assert.Equal(t, m.Q, loaded.Q)
}

func TestModelSaveLoad(t *testing.T) {
	m := newRandomModel(5, 6, 3, 1)
	path := filepath.Join(t.TempDir(), "model.txt")
	require.NoError(t, SaveModel(m, path))
	loaded, err := LoadModel(path)
	require.NoError(t, err)
	assert.Equal(t, m.P, loaded.P)
	assert.Equal(t, m.Q, loaded.Q)
	assert.Equal(t, m.Predict(1, 2), loaded.Predict(1, 2))
}

func TestLoadModel_Missing(t *testing.T) {
	_, err := LoadModel(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestReadModel_BadHeader(t *testing.T) {
	_, err := ReadModel(bytes.NewBufferString("m 2\nn 2\nk 0\n"))
	assert.Error(t, err)
	_, err = ReadModel(bytes.NewBufferString("garbage"))
	assert.Error(t, err)
}
