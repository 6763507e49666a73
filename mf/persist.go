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
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/juju/errors"
)

// WriteModel writes a model in the plain text format:
//
//	m <rows>
//	n <cols>
//	k <factors>
//	p<i> v0 ... v_{k-1}     (m lines)
//	q<j> v0 ... v_{k-1}     (n lines)
func WriteModel(w io.Writer, m *Model) error {
	buf := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(buf, "m %d\nn %d\nk %d\n", m.M, m.N, m.K); err != nil {
		return errors.Trace(err)
	}
	write := func(vec []float32, size int32, prefix byte) error {
		for i := int32(0); i < size; i++ {
			if _, err := fmt.Fprintf(buf, "%c%d", prefix, i); err != nil {
				return errors.Trace(err)
			}
			row := vec[i*m.K : (i+1)*m.K]
			for _, v := range row {
				if _, err := buf.WriteString(" " + strconv.FormatFloat(float64(v), 'g', -1, 32)); err != nil {
					return errors.Trace(err)
				}
			}
			if err := buf.WriteByte('\n'); err != nil {
				return errors.Trace(err)
			}
		}
		return nil
	}
	if err := write(m.P, m.M, 'p'); err != nil {
		return err
	}
	if err := write(m.Q, m.N, 'q'); err != nil {
		return err
	}
	return errors.Trace(buf.Flush())
}

// ReadModel reads a model written by WriteModel.
func ReadModel(r io.Reader) (*Model, error) {
	buf := bufio.NewReader(r)
	m := new(Model)
	var dummy string
	if _, err := fmt.Fscan(buf, &dummy, &m.M, &dummy, &m.N, &dummy, &m.K); err != nil {
		return nil, errors.Trace(err)
	}
	if m.M < 0 || m.N < 0 || m.K <= 0 {
		return nil, errors.NotValidf("model header %dx%dx%d", m.M, m.N, m.K)
	}
	m.P = make([]float32, int(m.M)*int(m.K))
	m.Q = make([]float32, int(m.N)*int(m.K))
	read := func(vec []float32, size int32) error {
		for i := int32(0); i < size; i++ {
			if _, err := fmt.Fscan(buf, &dummy); err != nil {
				return errors.Trace(err)
			}
			row := vec[i*m.K : (i+1)*m.K]
			for d := range row {
				if _, err := fmt.Fscan(buf, &row[d]); err != nil {
					return errors.Trace(err)
				}
			}
		}
		return nil
	}
	if err := read(m.P, m.M); err != nil {
		return nil, err
	}
	if err := read(m.Q, m.N); err != nil {
		return nil, err
	}
	return m, nil
}

// SaveModel writes a model to a file.
func SaveModel(m *Model, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Trace(err)
	}
	defer f.Close()
	if err := WriteModel(f, m); err != nil {
		return err
	}
	return errors.Trace(f.Sync())
}

// LoadModel reads a model from a file.
func LoadModel(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer f.Close()
	return ReadModel(f)
}
