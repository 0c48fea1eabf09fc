package proxy

import (
	"bytes"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWARCRecordSinkFinishWritesRequestAndResponseRecords(t *testing.T) {
	u, err := url.Parse("https://example.com/page")
	require.NoError(t, err)

	req := &http.Request{
		Method:     http.MethodGet,
		URL:        u,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header{"User-Agent": []string{"test-agent"}},
	}
	resp := &http.Response{
		Status:     "200 OK",
		StatusCode: 200,
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header{"Content-Type": []string{"text/html"}},
		Request:    req,
	}

	var dest bytes.Buffer
	sink := newWARCRecordSink(&dest, req, resp)
	_, err = sink.Write([]byte("<html></html>"))
	require.NoError(t, err)

	sink.Finish("")

	out := dest.String()
	assert.Equal(t, 1, strings.Count(out, "WARC-Type: request"))
	assert.Equal(t, 1, strings.Count(out, "WARC-Type: response"))
	assert.Contains(t, out, "GET /page HTTP/1.1")
	assert.Contains(t, out, "HTTP/1.1 200 OK")
	assert.Contains(t, out, "<html></html>")
	assert.Contains(t, out, "WARC-Target-URI: https://example.com/page")
}

func TestWARCRecordSinkFinishSetsTruncatedHeaderWhenGiven(t *testing.T) {
	u, _ := url.Parse("https://example.com/")
	req := &http.Request{Method: http.MethodGet, URL: u, Header: http.Header{}}
	resp := &http.Response{Status: "200 OK", Header: http.Header{}, Request: req}

	var dest bytes.Buffer
	sink := newWARCRecordSink(&dest, req, resp)
	sink.Finish("length")

	assert.Contains(t, dest.String(), "WARC-Truncated: length")
}

func TestLockedWriterSerializesConcurrentWrites(t *testing.T) {
	var dest bytes.Buffer
	w := NewLockedWriter(&dest)

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			w.Write([]byte("x"))
			done <- struct{}{}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	assert.Len(t, dest.String(), 10)
}
