// SPDX-License-Identifier: GPL-3.0-or-later

package doh3probe

import (
	"context"
	"net/http"
)

// dnsMessageContentType is the RFC 8484 media type of DNS messages.
const dnsMessageContentType = "application/dns-message"

// NewQueryRequest creates the DNS-over-HTTPS POST request for payload.
//
// The returned request has no body: the caller sends the request head with
// [*http3.RequestStream.SendRequestHeader] and then writes payload on the
// stream. When withLength is true, the request head declares a Content-Length
// equal to len(payload). Otherwise, the peer learns that the body is complete
// only when the stream send side is closed.
func NewQueryRequest(ctx context.Context, URL string, payload []byte, withLength bool) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, URL, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", dnsMessageContentType)
	req.Header.Set("Accept", dnsMessageContentType)

	// With [http.NoBody], zero means unknown and the HTTP/3 request writer
	// omits the content-length field, while a positive value emits it.
	req.ContentLength = 0
	if withLength {
		req.ContentLength = int64(len(payload))
	}
	return req, nil
}
