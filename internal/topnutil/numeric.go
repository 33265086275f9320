// Copyright 2017 The go-ethereum Authors
// (original work)
// Copyright 2024 The Erigon Authors
// (modifications)
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

// Package topnutil holds the epoch-arithmetic helper the synthetic source
// in cmd/topnwindowd uses to advance its own barrier epochs: safe,
// overflow-checked addition, in the style of erigon-lib/common/math's
// integer helpers.
package topnutil

import (
	"fmt"
	"math/bits"
)

// SafeAdd returns x+y and reports whether the addition overflowed.
func SafeAdd(x, y uint64) (uint64, bool) {
	sum, carryOut := bits.Add64(x, y, 0)
	return sum, carryOut != 0
}

// NextEpoch returns epoch+1, returning an error instead of wrapping on
// overflow: an overflow here means a source has outlived its epoch space
// and must fail rather than silently wrap around into an epoch that would
// sort ahead of already-flushed data.
func NextEpoch(epoch uint64) (uint64, error) {
	next, overflowed := SafeAdd(epoch, 1)
	if overflowed {
		return 0, fmt.Errorf("epoch counter exhausted at %d", epoch)
	}
	return next, nil
}
