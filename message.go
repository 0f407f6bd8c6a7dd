// SPDX-License-Identifier: GPL-3.0-or-later

package doh3probe

import (
	"errors"

	"github.com/bassosimone/dnscodec"
	"github.com/miekg/dns"
)

// ErrInvalidQuery indicates that a payload is not a DNS query with one question.
var ErrInvalidQuery = errors.New("doh3probe: invalid DNS query")

// ParseQueryMessage parses raw as a DNS query containing exactly one question.
func ParseQueryMessage(raw []byte) (*dns.Msg, error) {
	msg := &dns.Msg{}
	if err := msg.Unpack(raw); err != nil {
		return nil, err
	}
	if msg.Response || len(msg.Question) != 1 {
		return nil, ErrInvalidQuery
	}
	return msg, nil
}

// ResponseSummary summarizes a DNS response received over HTTP/3.
type ResponseSummary struct {
	// Rcode is the response code name (e.g., "NOERROR").
	Rcode string

	// Answers is the number of answer records.
	Answers int

	// AddrsA contains the IPv4 addresses in the answer.
	AddrsA []string
}

// SummarizeResponse parses rawResp as the DNS response to query.
//
// The returned summary is non-nil whenever rawResp parses as a DNS message,
// even if validating it as the response to query fails.
func SummarizeResponse(query *dns.Msg, rawResp []byte) (*ResponseSummary, error) {
	// 1. Parse the raw response
	respMsg := &dns.Msg{}
	if err := respMsg.Unpack(rawResp); err != nil {
		return nil, err
	}
	summary := &ResponseSummary{
		Rcode:   dns.RcodeToString[respMsg.Rcode],
		Answers: len(respMsg.Answer),
	}

	// 2. Make sure the response is a response to the query
	resp, err := dnscodec.ParseResponse(query, respMsg)
	if err != nil {
		return summary, err
	}

	// 3. Extract the A records
	addrs, err := resp.RecordsA()
	if err != nil {
		return summary, err
	}
	summary.AddrsA = addrs
	return summary, nil
}
