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
	"fmt"
	"math"
	"sync"

	"github.com/chewxy/math32"
	"github.com/juju/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"modernc.org/mathutil"

	"github.com/gorse-io/blockmf/base"
	"github.com/gorse-io/blockmf/base/log"
	"github.com/gorse-io/blockmf/base/parallel"
	"github.com/gorse-io/blockmf/common/floats"
)

// Fit trains factor matrices on tr. If va is non-nil and non-empty, the RMSE
// on va is reported after every epoch. The returned model is in the caller's
// index space and rating scale.
func (s *SGD) Fit(tr, va *Problem) (*Model, error) {
	return s.fit(tr, va, nil, nil, nil)
}

// fit runs the block-parallel training loop. cvBlocks are withheld from
// scheduling; their loss and observation count are written to cvLoss and
// cvCount after training when both are non-nil.
func (s *SGD) fit(trIn, vaIn *Problem, cvBlocks []int32, cvLoss *float64, cvCount *int) (*Model, error) {
	if err := s.validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if trIn == nil || trIn.NNZ() == 0 {
		return nil, errors.NotValidf("empty training problem")
	}
	nrBins := int32(mathutil.Max(s.nBins, 2*s.nJobs))

	tr := copyProblem(trIn, s.copyData)
	va := copyProblem(vaIn, s.copyData)

	rng := s.rng()
	pMap := rng.Permutation(tr.M)
	qMap := rng.Permutation(tr.N)
	shuffleProblem(tr, pMap, qMap, s.nJobs)
	shuffleProblem(va, pMap, qMap, s.nJobs)

	ptrs, err := gridProblem(tr, nrBins, s.nJobs)
	if err != nil {
		return nil, errors.Trace(err)
	}

	kAligned := (s.nFactors + kAlign - 1) / kAlign * kAlign
	m, err := s.initModel(tr.M, tr.N, int32(kAligned), rng)
	if err != nil {
		return nil, errors.Trace(err)
	}

	stdDev := calcStdDev(tr, s.nJobs)
	if stdDev <= 0 {
		// Constant ratings carry no scale information; train unscaled.
		stdDev = 1
	}
	scaleProblem(tr, 1/stdDev, s.nJobs)
	scaleProblem(va, 1/stdDev, s.nJobs)
	lambda := s.reg / stdDev

	sched := newScheduler(nrBins, s.nJobs, cvBlocks, base.NewRandomGenerator(rng.Int63()))

	omegaP := make([]int32, tr.M)
	omegaQ := make([]int32, tr.N)
	for i := range tr.R {
		omegaP[tr.R[i].U]++
		omegaQ[tr.R[i].V]++
	}

	slowOnly := atomic.NewBool(true)
	pG := base.RepeatFloat32s(int(tr.M)*2, 1)
	qG := base.RepeatFloat32s(int(tr.N)*2, 1)

	var wg sync.WaitGroup
	wg.Add(s.nJobs)
	for i := 0; i < s.nJobs; i++ {
		go func() {
			defer base.CheckPanic()
			defer wg.Done()
			s.sg(tr, ptrs, m, sched, slowOnly, lambda, pG, qG)
		}()
	}

	if !s.quiet {
		log.Logger().Info("fit sgd",
			zap.Int("train_set_size", tr.NNZ()),
			zap.Int("test_set_size", va.NNZ()),
			zap.Any("params", s.Params))
	}

	for iter := 0; iter < s.nEpochs; iter++ {
		sched.waitForJobsDone()

		if !s.quiet {
			reg := calcReg(m, omegaP, omegaQ, s.nJobs) *
				float64(lambda) * float64(stdDev) * float64(stdDev)
			trLoss := sched.getLoss() * float64(stdDev) * float64(stdDev)
			trRMSE := math.Sqrt(trLoss / float64(tr.NNZ()))
			fields := []zap.Field{
				zap.Float64("tr_rmse", trRMSE),
				zap.Float64("obj", reg+trLoss),
			}
			if va.NNZ() > 0 {
				vaRMSE := calcRMSE(va, m, s.nJobs) * float64(stdDev)
				fields = append(fields, zap.Float64("va_rmse", vaRMSE))
			}
			log.Logger().Info(fmt.Sprintf("fit sgd %v/%v", iter+1, s.nEpochs), fields...)
		}

		if iter == 0 {
			slowOnly.Store(false)
		}
		sched.resume()
	}
	sched.terminate()
	wg.Wait()

	if !s.quiet {
		trLoss := calcLoss(tr.R, m, s.nJobs) * float64(stdDev) * float64(stdDev)
		log.Logger().Info("fit sgd complete",
			zap.Float64("tr_rmse", math.Sqrt(trLoss/float64(tr.NNZ()))))
	}

	if cvLoss != nil && cvCount != nil {
		*cvLoss = 0
		*cvCount = 0
		for _, block := range cvBlocks {
			*cvLoss += calcLoss(tr.R[ptrs[block]:ptrs[block+1]], m, s.nJobs)
			*cvCount += ptrs[block+1] - ptrs[block]
		}
		*cvLoss *= float64(stdDev) * float64(stdDev)
	}

	invPMap := invPermutation(pMap)
	invQMap := invPermutation(qMap)
	if !s.copyData {
		scaleProblem(tr, stdDev, s.nJobs)
		scaleProblem(va, stdDev, s.nJobs)
		shuffleProblem(tr, invPMap, invQMap, s.nJobs)
		shuffleProblem(va, invPMap, invQMap, s.nJobs)
	}

	scaleModel(m, math32.Sqrt(stdDev), s.nJobs)
	shrinkModel(m, int32(s.nFactors))
	shuffleModel(m, invPMap, invQMap)
	return m, nil
}

// CrossValidate shuffles the block grid into contiguous folds, trains once
// per fold with that fold's blocks held out, and returns the RMSE over all
// held-out observations.
func (s *SGD) CrossValidate(prob *Problem, folds int) (float32, error) {
	if folds <= 0 {
		return 0, errors.NotValidf("folds = %d", folds)
	}
	if err := s.validate(); err != nil {
		return 0, errors.Trace(err)
	}
	quiet := s.quiet
	s.quiet = true
	defer func() { s.quiet = quiet }()

	nrBins := int32(mathutil.Max(s.nBins, 2*s.nJobs))
	rng := s.rng()
	blocks := rng.Permutation(nrBins * nrBins)
	foldBlocks := parallel.Split(blocks, folds)

	var loss float64
	var count int
	for fold, heldOut := range foldBlocks {
		var foldLoss float64
		var foldCount int
		if _, err := s.fit(prob, nil, heldOut, &foldLoss, &foldCount); err != nil {
			return 0, errors.Trace(err)
		}
		if !quiet && foldCount > 0 {
			log.Logger().Info(fmt.Sprintf("cross validation %v/%v", fold+1, len(foldBlocks)),
				zap.Float64("rmse", math.Sqrt(foldLoss/float64(foldCount))))
		}
		loss += foldLoss
		count += foldCount
	}
	if count == 0 {
		return 0, nil
	}
	rmse := float32(math.Sqrt(loss / float64(count)))
	if !quiet {
		log.Logger().Info("cross validation complete", zap.Float32("rmse", rmse))
	}
	return rmse, nil
}

// initModel allocates aligned factor matrices with entries drawn uniformly
// from [0, sqrt(1/k)). Padding lanes beyond the requested factor count stay
// zero for the whole training run.
func (s *SGD) initModel(m, n, kAligned int32, rng base.RandomGenerator) (*Model, error) {
	p, err := floats.MakeAligned(int(m) * int(kAligned))
	if err != nil {
		return nil, errors.Trace(err)
	}
	q, err := floats.MakeAligned(int(n) * int(kAligned))
	if err != nil {
		return nil, errors.Trace(err)
	}
	mod := &Model{M: m, N: n, K: kAligned, P: p, Q: q}
	scale := math32.Sqrt(1 / float32(s.nFactors))
	init := func(vec []float32, count int32) {
		for i := int32(0); i < count; i++ {
			row := vec[i*kAligned : (i+1)*kAligned]
			for d := 0; d < s.nFactors; d++ {
				row[d] = rng.Float32() * scale
			}
		}
	}
	init(mod.P, m)
	init(mod.Q, n)
	return mod, nil
}

// calcLoss returns the squared explicit-feedback loss of a set of
// observations under a model.
func calcLoss(nodes []Node, m *Model, nJobs int) float64 {
	losses := make([]float64, nJobs)
	_ = parallel.BatchParallel(len(nodes), nJobs, batchSize, func(workerId, begin, end int) error {
		var loss float64
		for i := begin; i < end; i++ {
			e := float64(nodes[i].R - m.Predict(nodes[i].U, nodes[i].V))
			loss += e * e
		}
		losses[workerId] += loss
		return nil
	})
	var loss float64
	for _, l := range losses {
		loss += l
	}
	return loss
}

// calcRMSE returns the root of the mean squared error over a problem, or 0
// for an empty problem.
func calcRMSE(prob *Problem, m *Model, nJobs int) float64 {
	if prob.NNZ() == 0 {
		return 0
	}
	return math.Sqrt(calcLoss(prob.R, m, nJobs) / float64(prob.NNZ()))
}

// calcReg returns the Frobenius penalty weighted by per-row observation
// counts.
func calcReg(m *Model, omegaP, omegaQ []int32, nJobs int) float64 {
	k := int(m.K)
	reg1 := func(vec []float32, omega []int32) float64 {
		regs := make([]float64, nJobs)
		_ = parallel.BatchParallel(len(omega), nJobs, batchSize, func(workerId, begin, end int) error {
			var reg float64
			for i := begin; i < end; i++ {
				row := vec[i*k : (i+1)*k]
				reg += float64(omega[i]) * float64(floats.Dot(row, row))
			}
			regs[workerId] += reg
			return nil
		})
		var reg float64
		for _, r := range regs {
			reg += r
		}
		return reg
	}
	return reg1(m.P, omegaP) + reg1(m.Q, omegaQ)
}

// scaleModel multiplies every factor entry by scale.
func scaleModel(m *Model, scale float32, nJobs int) {
	k := int(m.K)
	scale1 := func(vec []float32, size int32) {
		_ = parallel.BatchParallel(int(size), nJobs, batchSize, func(_, begin, end int) error {
			for i := begin; i < end; i++ {
				floats.MulConst(vec[i*k:(i+1)*k], scale)
			}
			return nil
		})
	}
	scale1(m.P, m.M)
	scale1(m.Q, m.N)
}

// shrinkModel compacts factor rows from the padded stride back to kNew.
func shrinkModel(m *Model, kNew int32) {
	kOld := m.K
	if kNew == kOld {
		return
	}
	m.K = kNew
	shrink1 := func(vec []float32, size int32) []float32 {
		for i := int32(0); i < size; i++ {
			copy(vec[i*kNew:(i+1)*kNew], vec[i*kOld:i*kOld+kNew])
		}
		return vec[:size*kNew]
	}
	m.P = shrink1(m.P, m.M)
	m.Q = shrink1(m.Q, m.N)
}

// shuffleModel permutes factor rows in place so that row i corresponds to the
// caller's index i again. The maps are consumed as scratch copies.
func shuffleModel(m *Model, pMap, qMap []int32) {
	k := m.K
	shuffle1 := func(vec []float32, perm []int32, size int32) {
		perm = append([]int32(nil), perm...)
		for pivot := int32(0); pivot < size; {
			if pivot == perm[pivot] {
				pivot++
				continue
			}
			next := perm[pivot]
			for d := int32(0); d < k; d++ {
				vec[pivot*k+d], vec[next*k+d] = vec[next*k+d], vec[pivot*k+d]
			}
			perm[pivot] = perm[next]
			perm[next] = next
		}
	}
	shuffle1(m.P, pMap, m.M)
	shuffle1(m.Q, qMap, m.N)
}
