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
	"github.com/juju/errors"

	"github.com/gorse-io/blockmf/base"
	"github.com/gorse-io/blockmf/common/floats"
	"github.com/gorse-io/blockmf/model"
)

// kAlign is the lane count of the factor-row layout. Factor rows are padded
// to a multiple of kAlign and aligned to kAlign*4 bytes so that a vectorized
// kernel could process them without remainder handling.
const kAlign = floats.Align

// Node is a single observation: user u gave item v the rating r.
type Node struct {
	U int32
	V int32
	R float32
}

// Problem is a sparse rating matrix of m users by n items.
type Problem struct {
	M int32
	N int32
	R []Node
}

// NNZ returns the number of observations.
func (p *Problem) NNZ() int {
	return len(p.R)
}

// Model holds the learned factor matrices. P (m rows) and Q (n rows) are
// row-major with row stride K. After training K equals the requested factor
// count; during training rows are padded to a multiple of kAlign.
type Model struct {
	M int32
	N int32
	K int32
	P []float32
	Q []float32
}

// Predict returns the dot product of user u's and item v's factor rows, or 0
// if either index is out of range.
func (m *Model) Predict(u, v int32) float32 {
	if u < 0 || u >= m.M || v < 0 || v >= m.N {
		return 0
	}
	k := int(m.K)
	return floats.Dot(m.P[int(u)*k:(int(u)+1)*k], m.Q[int(v)*k:(int(v)+1)*k])
}

// SGD is the block-parallel stochastic gradient descent solver for low-rank
// matrix factorization. The rating matrix is cut into a grid of blocks; a
// scheduler hands conflict-free blocks to workers so that no two workers ever
// write the same factor row, and each row carries two AdaGrad accumulators
// shared by its leading and trailing factor dimensions.
//
// Hyper-parameters:
//
//	NFactors    - The number of latent factors. Default is 8.
//	NEpochs     - The number of training epochs. Default is 20.
//	NJobs       - The number of concurrent workers. Default is 1.
//	NBins       - The minimum side of the block grid. Raised to twice the
//	              worker count when smaller. Default is 20.
//	Lr          - The base learning rate. Default is 0.1.
//	Reg         - The regularization strength. Default is 0.1.
//	Alpha       - The implicit-feedback confidence slope. Default is 40.
//	NMF         - Clamp factors at zero after every update. Default is false.
//	Implicit    - Use the weighted implicit-feedback loss. Default is false.
//	Quiet       - Suppress per-epoch reporting. Default is false.
//	CopyData    - Leave the caller's observations untouched. Default is true.
//	RandomState - The random seed. Default is 0.
type SGD struct {
	Params model.Params
	// Hyper parameters
	nFactors    int
	nEpochs     int
	nJobs       int
	nBins       int
	lr          float32
	reg         float32
	alpha       float32
	nmf         bool
	implicit    bool
	quiet       bool
	copyData    bool
	randomState int64
}

// NewSGD creates a block-parallel SGD solver.
func NewSGD(params model.Params) *SGD {
	sgd := new(SGD)
	sgd.SetParams(params)
	return sgd
}

// SetParams sets hyper-parameters of the solver.
func (s *SGD) SetParams(params model.Params) {
	s.Params = params
	s.nFactors = params.GetInt(model.NFactors, 8)
	s.nEpochs = params.GetInt(model.NEpochs, 20)
	s.nJobs = params.GetInt(model.NJobs, 1)
	s.nBins = params.GetInt(model.NBins, 20)
	s.lr = params.GetFloat32(model.Lr, 0.1)
	s.reg = params.GetFloat32(model.Reg, 0.1)
	s.alpha = params.GetFloat32(model.Alpha, 40)
	s.nmf = params.GetBool(model.NMF, false)
	s.implicit = params.GetBool(model.Implicit, false)
	s.quiet = params.GetBool(model.Quiet, false)
	s.copyData = params.GetBool(model.CopyData, true)
	s.randomState = params.GetInt64(model.RandomState, 0)
}

func (s *SGD) validate() error {
	if s.nFactors <= 0 {
		return errors.NotValidf("NFactors = %d", s.nFactors)
	}
	if s.nEpochs < 0 {
		return errors.NotValidf("NEpochs = %d", s.nEpochs)
	}
	if s.nJobs <= 0 {
		return errors.NotValidf("NJobs = %d", s.nJobs)
	}
	if s.nBins < 1 {
		return errors.NotValidf("NBins = %d", s.nBins)
	}
	return nil
}

func (s *SGD) rng() base.RandomGenerator {
	return base.NewRandomGenerator(s.randomState)
}

// Train learns factor matrices for a problem.
func Train(prob *Problem, params model.Params) (*Model, error) {
	return NewSGD(params).Fit(prob, nil)
}

// TrainWithValidation learns factor matrices for a problem and reports the
// RMSE on a validation problem after every epoch.
func TrainWithValidation(tr, va *Problem, params model.Params) (*Model, error) {
	return NewSGD(params).Fit(tr, va)
}

// CrossValidate reports the average held-out RMSE of k-fold cross-validation
// over the block grid.
func CrossValidate(prob *Problem, folds int, params model.Params) (float32, error) {
	return NewSGD(params).CrossValidate(prob, folds)
}
