// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

// Package httputils builds the HTTP clients used to talk to place providers.
package httputils

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"regexp"
	"strings"
	"time"
)

// DefaultTimeout bounds every provider request.
const DefaultTimeout = 10 * time.Second

// ClientOptions configures NewClient.
type ClientOptions struct {
	Timeout time.Duration
	// Headers are set on every outgoing request (User-Agent, Accept-Language...).
	Headers map[string]string
	// Trace, when non nil, receives a dump of every request and response.
	Trace io.Writer
	// Transport is the base transport; http.DefaultTransport when nil.
	Transport http.RoundTripper
}

// NewClient returns an http.Client with the header and tracing round trippers installed.
func NewClient(opts ClientOptions) *http.Client {
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	if opts.Trace != nil {
		transport = &LoggingRoundTripper{Transport: transport, Writer: opts.Trace, DumpBody: true}
	}

	if len(opts.Headers) > 0 {
		transport = &AppendRequestHeadersRoundTripper{Transport: transport, Headers: opts.Headers}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &http.Client{Timeout: timeout, Transport: transport}
}

/////////////////////////////////////////
/// RoundTrippers

// LoggingRoundTripper dumps each HTTP transaction to Writer.
type LoggingRoundTripper struct {
	Transport http.RoundTripper
	Writer    io.Writer
	DumpBody  bool
}

var (
	keyParam   = regexp.MustCompile(`([?&]key=)[^&\s]+`)
	authHeader = regexp.MustCompile(`(?i)^(authorization: ).+$`)
)

// redact hides API keys and credentials from a dump line.
func redact(line string) string {
	line = keyParam.ReplaceAllString(line, "${1}REDACTED")

	return authHeader.ReplaceAllString(line, "${1}REDACTED")
}

// abbreviate prefixes each line and trims long dumps.
func abbreviate(lines []string, prefix rune) []string {
	const maxLines, maxChars = 2048, 512

	if len(lines) > maxLines {
		lines = append(lines[:maxLines], "…")
	}

	for i, line := range lines {
		line = fmt.Sprintf("%c %s", prefix, redact(line))
		if len(line) > maxChars {
			line = line[:maxChars] + "…"
		}

		lines[i] = line
	}

	return lines
}

func (t *LoggingRoundTripper) write(header string, dump []byte, prefix rune) error {
	lines := abbreviate(strings.Split(strings.TrimRight(string(dump), "\r\n"), "\n"), prefix)
	if header != "" {
		lines = append([]string{header}, lines...)
	}

	_, err := fmt.Fprintln(t.Writer, strings.Join(lines, "\n"))

	return err
}

// RoundTrip implements the http.RoundTripper interface.
func (t *LoggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Writer == nil {
		return t.Transport.RoundTrip(req)
	}

	dump, err := httputil.DumpRequestOut(req, true)
	if err != nil {
		return nil, fmt.Errorf("tracing HTTP request: %w", err)
	}

	if err := t.write("", dump, '>'); err != nil {
		return nil, fmt.Errorf("tracing HTTP request: %w", err)
	}

	start := time.Now()

	resp, err := t.Transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	dump, err = httputil.DumpResponse(resp, t.DumpBody)
	if err != nil {
		return nil, fmt.Errorf("tracing HTTP response: %w", err)
	}

	if err := t.write(fmt.Sprintf("< RESPONSE: [%v]", time.Since(start)), dump, '<'); err != nil {
		return nil, fmt.Errorf("tracing HTTP response: %w", err)
	}

	return resp, nil
}

// AppendRequestHeadersRoundTripper sets Headers on each request.
type AppendRequestHeadersRoundTripper struct {
	Transport http.RoundTripper
	Headers   map[string]string
}

// RoundTrip implements the http.RoundTripper interface.
func (t *AppendRequestHeadersRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.Headers {
		req.Header.Set(k, v)
	}

	return t.Transport.RoundTrip(req)
}
