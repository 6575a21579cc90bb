// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package httputils

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingRoundTripper captures the last request and answers with a fixed body.
type recordingRoundTripper struct {
	lastRequest *http.Request
	body        string
}

func (d *recordingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	d.lastRequest = req

	return &http.Response{
		Status:     "200 OK",
		StatusCode: http.StatusOK,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(d.body)),
		Request:    req,
	}, nil
}

func TestLoggingRoundTripper(t *testing.T) {
	var logBuffer bytes.Buffer

	lt := &LoggingRoundTripper{
		Transport: &recordingRoundTripper{body: "response body"},
		Writer:    &logBuffer,
		DumpBody:  true,
	}

	req, err := http.NewRequest(http.MethodGet, "http://example.com/search?q=cafe&key=s3cr3t", nil)
	require.NoError(t, err)

	resp, err := lt.RoundTrip(req)
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "response body", string(body), "body must still be readable after the dump")

	logContent := logBuffer.String()
	assert.Contains(t, logContent, "> GET /search?q=cafe&key=REDACTED")
	assert.NotContains(t, logContent, "s3cr3t")
	assert.Contains(t, logContent, "< RESPONSE: [")
	assert.Contains(t, logContent, "response body")
}

func TestAbbreviate(t *testing.T) {
	lines := abbreviate([]string{"a", strings.Repeat("x", 600)}, '>')

	require.Len(t, lines, 2)
	assert.Equal(t, "> a", lines[0])
	assert.True(t, strings.HasSuffix(lines[1], "…"))
	assert.Len(t, lines[1], 512+len("…"))
}

func TestAppendRequestHeadersRoundTripper(t *testing.T) {
	dummy := &recordingRoundTripper{}
	atr := &AppendRequestHeadersRoundTripper{
		Transport: dummy,
		Headers:   map[string]string{"X-Test-Header": "TestValue"},
	}

	req, err := http.NewRequest(http.MethodPost, "http://example.org", nil)
	require.NoError(t, err)

	_, err = atr.RoundTrip(req)
	require.NoError(t, err)

	require.NotNil(t, dummy.lastRequest)
	assert.Equal(t, "TestValue", dummy.lastRequest.Header.Get("X-Test-Header"))
	assert.Empty(t, req.Header.Get("X-Test-Header"), "the caller request is not mutated")
}

func TestNewClient(t *testing.T) {
	var gotAgent string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.UserAgent()
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	var trace bytes.Buffer

	client := NewClient(ClientOptions{
		Headers: map[string]string{"User-Agent": "placelookup-test"},
		Trace:   &trace,
	})
	assert.Equal(t, DefaultTimeout, client.Timeout)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "placelookup-test", gotAgent)
	assert.Contains(t, trace.String(), "User-Agent: placelookup-test")
}
