// SPDX-License-Identifier: GPL-3.0-or-later

// Package doh3probe sends DNS-over-HTTPS queries over HTTP/3 to observe how
// servers react to HTTP/3 SETTINGS greasing and to a missing Content-Length.
//
// The API is intentionally small and designed for measurement use cases.
//
// Each [*Probe.Run] call dials a new QUIC connection to a single
// netip.AddrPort endpoint, sends one request, and tears the connection down.
package doh3probe
