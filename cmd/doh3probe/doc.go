// SPDX-License-Identifier: GPL-3.0-or-later

// Command doh3probe sends a DNS-over-HTTPS query to Cloudflare over HTTP/3
// four times, toggling HTTP/3 SETTINGS greasing and the request Content-Length
// header, and prints each response status, headers, and body.
//
// Usage:
//
//	doh3probe
//
// The command takes no flags. The DOH3PROBE_LOG environment variable sets
// the log level (default "error") and SSLKEYLOGFILE, when set, names the
// file where TLS session keys are appended.
//
// Any failure panics with an error naming the failing step.
package main
