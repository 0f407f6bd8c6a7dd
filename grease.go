// SPDX-License-Identifier: GPL-3.0-or-later

package doh3probe

import (
	"math/rand/v2"

	"github.com/bassosimone/runtimex"
)

// RFC 9114 Sect. 7.2.4.1 reserves the setting identifiers of the
// form 0x1f * N + 0x21 for greasing. Peers MUST ignore them.
const (
	greaseSettingBase   = 0x21
	greaseSettingStride = 0x1f
)

// maxGreaseSettingN bounds N so that the identifier stays well within the
// 8-byte QUIC varint range (2^62-1) used to encode it.
const maxGreaseSettingN = 1 << 32

// IsGreaseSetting returns whether id is a reserved HTTP/3 setting identifier.
func IsGreaseSetting(id uint64) bool {
	return id >= greaseSettingBase && (id-greaseSettingBase)%greaseSettingStride == 0
}

// NewGreaseSettings returns additional HTTP/3 settings containing a single
// reserved identifier with a random value.
//
// The rnd function provides randomness. When nil, we use [rand.Uint64].
func NewGreaseSettings(rnd func() uint64) map[uint64]uint64 {
	if rnd == nil {
		rnd = rand.Uint64
	}
	id := greaseSettingStride*(rnd()%maxGreaseSettingN) + greaseSettingBase
	runtimex.Assert(IsGreaseSetting(id))

	// The value is an opaque varint as well.
	value := rnd() % (1 << 62)
	return map[uint64]uint64{id: value}
}
