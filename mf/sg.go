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
	"go.uber.org/atomic"

	"github.com/gorse-io/blockmf/common/floats"
)

// sgUpdate applies one AdaGrad step to a sub-vector of a user row p and an
// item row q sharing the prediction error. pG and qG are the squared-gradient
// accumulators of the sub-vector; rk averages the per-coordinate contribution
// before it is added back.
func sgUpdate(p, q []float32, pG, qG *float32, eta, lambda, err, rk float32, nmf bool) {
	etaP := eta * floats.InvSqrt(*pG)
	etaQ := eta * floats.InvSqrt(*qG)

	var pG1, qG1 float32
	for d := range p {
		gp := lambda*p[d] - err*q[d]
		gq := lambda*q[d] - err*p[d]

		pG1 += gp * gp
		qG1 += gq * gq

		p[d] -= etaP * gp
		q[d] -= etaQ * gq

		if nmf {
			p[d] = math32.Max(p[d], 0)
			q[d] = math32.Max(q[d], 0)
		}
	}

	*pG += pG1 * rk
	*qG += qG1 * rk
}

// sg is the worker loop. It consumes block assignments until the scheduler is
// terminated, walking each block's observations and updating factor rows with
// the slow/fast split: the leading kAlign dimensions always, the remainder
// only once slowOnly has been cleared by the driver.
func (s *SGD) sg(tr *Problem, ptrs []int, m *Model, sched *scheduler,
	slowOnly *atomic.Bool, lambda float32, pG, qG []float32) {
	kAligned := int(m.K)
	rkSlow := float32(1) / float32(kAlign)
	var rkFast float32
	if kAligned > kAlign {
		rkFast = float32(1) / float32(kAligned-kAlign)
	}
	for {
		block := sched.getJob()
		var loss float64
		for i := ptrs[block]; i < ptrs[block+1]; i++ {
			node := &tr.R[i]
			p := m.P[int(node.U)*kAligned : (int(node.U)+1)*kAligned]
			q := m.Q[int(node.V)*kAligned : (int(node.V)+1)*kAligned]
			pg := pG[2*node.U : 2*node.U+2]
			qg := qG[2*node.V : 2*node.V+2]

			var err float32
			if s.implicit {
				var pref float32
				if node.R > 0 {
					pref = 1
				}
				conf := 1 + s.alpha*node.R
				err = pref - floats.Dot(p, q)
				loss += float64(conf * err * err)
				err *= conf
			} else {
				err = node.R - floats.Dot(p, q)
				loss += float64(err * err)
			}

			sgUpdate(p[:kAlign], q[:kAlign], &pg[0], &qg[0],
				s.lr, lambda, err, rkSlow, s.nmf)

			if slowOnly.Load() || kAligned == kAlign {
				continue
			}

			sgUpdate(p[kAlign:], q[kAlign:], &pg[1], &qg[1],
				s.lr, lambda, err, rkFast, s.nmf)
		}
		sched.putJob(block, loss)
		if sched.isTerminated() {
			break
		}
	}
}
