// Copyright 2025 gorse Project Authors
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

package floats

import (
	"unsafe"

	"github.com/juju/errors"
)

const (
	// AlignByte is the base address alignment of buffers returned by MakeAligned.
	AlignByte = 32
	// Align is AlignByte expressed in float32 lanes.
	Align = AlignByte / 4
)

// MakeAligned allocates a zeroed float32 buffer of the given length whose base
// address is aligned to AlignByte. The buffer is padded internally; the
// returned slice has exactly the requested length.
func MakeAligned(size int) ([]float32, error) {
	if size < 0 {
		return nil, errors.NotValidf("buffer size %d", size)
	}
	if size == 0 {
		return nil, nil
	}
	raw := make([]float32, size+Align)
	offset := 0
	addr := uintptr(unsafe.Pointer(&raw[0]))
	if rem := addr % AlignByte; rem != 0 {
		offset = int((AlignByte - rem) / 4)
	}
	return raw[offset : offset+size : offset+size], nil
}

// IsAligned reports whether the base address of a buffer is aligned to AlignByte.
func IsAligned(a []float32) bool {
	if len(a) == 0 {
		return true
	}
	return uintptr(unsafe.Pointer(&a[0]))%AlignByte == 0
}
