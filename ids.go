// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipua

import (
	"math"
	"sync/atomic"
)

// AccountID is handle of account. Zero means no account.
type AccountID uint32

// CallID is handle of call. Zero means no call.
type CallID uint32

// PlayerID is handle of file player or recorder. Zero means no player.
type PlayerID uint32

// idAllocator issues strictly increasing ids starting from 1.
// Ids are never reissued, so exhaustion returns 0.
type idAllocator struct {
	last atomic.Uint32
}

func (a *idAllocator) next() uint32 {
	for {
		cur := a.last.Load()
		if cur == math.MaxUint32 {
			return 0
		}
		if a.last.CompareAndSwap(cur, cur+1) {
			return cur + 1
		}
	}
}
