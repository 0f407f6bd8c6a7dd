// SPDX-License-Identifier: GPL-3.0-or-later

package doh3probe

import (
	_ "embed"
	"slices"
)

// queryMessage is a pre-encoded DNS query for example.com IN A with
// the ID set to zero, as RFC 8484 Sect. 4.1 recommends.
//
//go:embed request.bin
var queryMessage []byte

// QueryMessage returns a copy of the embedded DNS query message.
func QueryMessage() []byte {
	return slices.Clone(queryMessage)
}
