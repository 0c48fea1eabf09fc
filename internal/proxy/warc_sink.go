package proxy

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// warcSink receives recorded response bytes and, once the stream ends,
// writes the request and response WARC records — one request record and
// one response record per spec §4.1(e) — onto the shared recorded-WARC
// file for this capture.
type warcSink interface {
	Write(p []byte) (int, error)
	Finish(truncated string)
}

type discardSink struct{}

func (discardSink) Write(p []byte) (int, error) { return len(p), nil }
func (discardSink) Finish(string)                {}

// warcRecordSink buffers one response body and, on Finish, serializes the
// originating request plus the buffered response into the WARC/1.0 record
// format, the same raw serialization warcassembler.go uses for its
// warcinfo and screenshot records, so the recorded file and the final
// assembled file share one format.
type warcRecordSink struct {
	dest io.Writer
	req  *http.Request
	resp *http.Response
	buf  []byte
}

func newWARCRecordSink(dest io.Writer, req *http.Request, resp *http.Response) *warcRecordSink {
	return &warcRecordSink{dest: dest, req: req, resp: resp}
}

func (s *warcRecordSink) Write(p []byte) (int, error) {
	s.buf = append(s.buf, p...)
	return len(p), nil
}

// Finish writes the request record followed by the response record. Both
// are appended to dest in one call each so concurrent subresource fetches
// sharing the same destination (a mutex-guarded file, see LockedWriter)
// never interleave a record's header with its body.
func (s *warcRecordSink) Finish(truncated string) {
	if s.dest == nil || s.req == nil || s.resp == nil {
		return
	}

	s.dest.Write(requestRecord(s.req))
	s.dest.Write(responseRecord(s.resp, s.buf, truncated))
}

// requestRecord serializes the request line and headers sent upstream.
// The request body isn't captured here: by the time Finish runs, the
// proxy has already forwarded it and the body reader is spent.
func requestRecord(req *http.Request) []byte {
	var headerBuf bytes.Buffer
	fmt.Fprintf(&headerBuf, "%s %s HTTP/%d.%d\r\n", req.Method, req.URL.RequestURI(), req.ProtoMajor, req.ProtoMinor)
	req.Header.Write(&headerBuf)
	headerBuf.WriteString("\r\n")

	var buf bytes.Buffer
	writeRecordHeader(&buf, "request", req.URL.String(), "application/http; msgtype=request", headerBuf.Len(), "")
	buf.Write(headerBuf.Bytes())
	buf.WriteString("\r\n\r\n")
	return buf.Bytes()
}

func responseRecord(resp *http.Response, body []byte, truncated string) []byte {
	statusLine := fmt.Sprintf("HTTP/%d.%d %s\r\n", resp.ProtoMajor, resp.ProtoMinor, resp.Status)

	var headerBuf bytes.Buffer
	headerBuf.WriteString(statusLine)
	resp.Header.Write(&headerBuf)
	headerBuf.WriteString("\r\n")
	headerBuf.Write(body)

	target := ""
	if resp.Request != nil && resp.Request.URL != nil {
		target = resp.Request.URL.String()
	}

	var buf bytes.Buffer
	writeRecordHeader(&buf, "response", target, "application/http; msgtype=response", headerBuf.Len(), truncated)
	buf.Write(headerBuf.Bytes())
	buf.WriteString("\r\n\r\n")
	return buf.Bytes()
}

func writeRecordHeader(buf *bytes.Buffer, recordType, targetURI, contentType string, contentLength int, truncated string) {
	fmt.Fprintf(buf, "WARC/1.0\r\nWARC-Type: %s\r\n", recordType)
	if targetURI != "" {
		fmt.Fprintf(buf, "WARC-Target-URI: %s\r\n", targetURI)
	}
	fmt.Fprintf(buf, "WARC-Record-ID: <urn:uuid:%s>\r\n", uuid.New().String())
	fmt.Fprintf(buf, "WARC-Date: %s\r\n", time.Now().UTC().Format(time.RFC3339))
	if truncated != "" {
		fmt.Fprintf(buf, "WARC-Truncated: %s\r\n", truncated)
	}
	fmt.Fprintf(buf, "Content-Type: %s\r\nContent-Length: %d\r\n\r\n", contentType, contentLength)
}
