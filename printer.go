// SPDX-License-Identifier: GPL-3.0-or-later

package doh3probe

import (
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Printer renders the outcome of each run for humans.
//
// Construct using [NewPrinter].
type Printer struct {
	w io.Writer
}

// NewPrinter creates a new [*Printer] writing to w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// PrintRunConfig prints the line introducing the run using config.
func (p *Printer) PrintRunConfig(config RunConfig) error {
	_, err := fmt.Fprintf(p.w, "GREASE: %t, Content-Length: %t\n",
		config.EmitTransportPadding, config.EmitLengthHeader)
	return err
}

// PrintResponseHead prints the status line and the headers of resp.
//
// Headers are sorted by key and each value gets its own line.
func (p *Printer) PrintResponseHead(resp *http.Response) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Status: %s\n", statusLine(resp.StatusCode))
	sb.WriteString("Headers:\n")
	for _, key := range slices.Sorted(maps.Keys(resp.Header)) {
		for _, value := range resp.Header[key] {
			fmt.Fprintf(&sb, "  %s: %s\n", key, value)
		}
	}
	_, err := io.WriteString(p.w, sb.String())
	return err
}

// statusLine formats code along with its reason phrase, if known.
func statusLine(code int) string {
	if text := http.StatusText(code); text != "" {
		return strconv.Itoa(code) + " " + text
	}
	return strconv.Itoa(code)
}

// PrintBodyChunk prints a chunk of the response body both as quoted text,
// where each invalid UTF-8 sequence becomes U+FFFD, and as hex bytes.
func (p *Printer) PrintBodyChunk(chunk []byte) error {
	text := lossyString(chunk)
	_, err := fmt.Fprintf(p.w, "Body: %q % x\n", text, chunk)
	return err
}

// lossyString converts chunk to a string replacing each maximal invalid
// subpart of a UTF-8 sequence with U+FFFD (Unicode Sect. 3.9, U+FFFD
// substitution of maximal subparts).
func lossyString(chunk []byte) string {
	var sb strings.Builder
	for len(chunk) > 0 {
		r, size := utf8.DecodeRune(chunk)
		if r == utf8.RuneError && size <= 1 {
			sb.WriteRune(utf8.RuneError)
			chunk = chunk[invalidSubpartLen(chunk):]
			continue
		}
		sb.Write(chunk[:size])
		chunk = chunk[size:]
	}
	return sb.String()
}

// invalidSubpartLen returns the length of the maximal subpart of an
// invalid UTF-8 sequence at the beginning of p, which is at least one.
func invalidSubpartLen(p []byte) int {
	lo, hi := byte(0x80), byte(0xbf)
	var need int
	switch b := p[0]; {
	case b >= 0xc2 && b <= 0xdf:
		need = 1
	case b == 0xe0:
		need, lo = 2, 0xa0
	case b == 0xed:
		need, hi = 2, 0x9f
	case b >= 0xe1 && b <= 0xef:
		need = 2
	case b == 0xf0:
		need, lo = 3, 0x90
	case b == 0xf4:
		need, hi = 3, 0x8f
	case b >= 0xf1 && b <= 0xf3:
		need = 3
	default:
		return 1
	}
	n := 1
	for n <= need && n < len(p) && p[n] >= lo && p[n] <= hi {
		lo, hi = 0x80, 0xbf
		n++
	}
	return n
}

// PrintSeparator prints the blank line terminating a run.
func (p *Printer) PrintSeparator() error {
	_, err := fmt.Fprintln(p.w)
	return err
}
