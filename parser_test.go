package webserver

import (
	"strings"
	"testing"

	"github.com/luyu6056/tls"
)

func newBuf(s string) *tls.MsgBuffer {
	b := &tls.MsgBuffer{}
	b.Write([]byte(s))
	return b
}

func TestParseRequestLine(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		want     uriResult
		method   method
		fileName string
		version  httpVersion
	}{
		{"root", "GET / HTTP/1.1\r\n", parseURISuccess, methodGet, "index.html", http11},
		{"plain", "GET /hello HTTP/1.1\r\n", parseURISuccess, methodGet, "hello", http11},
		{"head", "HEAD /favicon.ico HTTP/1.1\r\n", parseURISuccess, methodHead, "favicon.ico", http11},
		{"post10", "POST /upload HTTP/1.0\r\n", parseURISuccess, methodPost, "upload", http10},
		{"query", "GET /a.html?x=1 HTTP/1.1\r\n", parseURISuccess, methodGet, "a.html", http11},
		{"bare query", "GET /?x=1 HTTP/1.1\r\n", parseURISuccess, methodGet, "index.html", http11},
		{"bad method", "FOO /x HTTP/1.1\r\n", parseURIError, 0, "", 0},
		{"lowercase", "get / HTTP/1.1\r\n", parseURIError, 0, "", 0},
		{"bad version", "GET /x HTTP/2.0\r\n", parseURIError, 0, "", 0},
		{"short version", "GET /x HTTP/1\r\n", parseURIError, 0, "", 0},
		{"no version", "GET /x\r\n", parseURIError, 0, "", 0},
		{"incomplete", "GET / HTTP", parseURIAgain, 0, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r request
			got := r.parseRequestLine(newBuf(tt.in))
			if got != tt.want {
				t.Fatalf("result = %v, want %v", got, tt.want)
			}
			if got != parseURISuccess {
				return
			}
			if r.method != tt.method || r.fileName != tt.fileName || r.version != tt.version {
				t.Fatalf("parsed (%v, %q, %v), want (%v, %q, %v)",
					r.method, r.fileName, r.version, tt.method, tt.fileName, tt.version)
			}
		})
	}
}

func TestParseRequestLineLeftover(t *testing.T) {
	var r request
	buf := newBuf("GET /x HTTP/1.1\r\nHost: a\r\n")
	if got := r.parseRequestLine(buf); got != parseURISuccess {
		t.Fatalf("result = %v", got)
	}
	if string(buf.Bytes()) != "\nHost: a\r\n" {
		t.Fatalf("leftover = %q", buf.Bytes())
	}
}

func TestParseHeaders(t *testing.T) {
	var r request
	buf := newBuf("\nHost: example\r\nConnection: keep-alive\r\n\r\n")
	if got := r.parseHeaders(buf); got != parseHeaderSuccess {
		t.Fatalf("result = %v", got)
	}
	if v, _ := r.headers.get("Host"); v != "example" {
		t.Fatalf("Host = %q", v)
	}
	if v, _ := r.headers.get("Connection"); v != "keep-alive" {
		t.Fatalf("Connection = %q", v)
	}
	if buf.Len() != 0 {
		t.Fatalf("leftover = %q", buf.Bytes())
	}
}

func TestParseHeadersNone(t *testing.T) {
	// A request with no header lines at all still terminates.
	var r request
	buf := newBuf("\n\r\n")
	if got := r.parseHeaders(buf); got != parseHeaderSuccess {
		t.Fatalf("result = %v", got)
	}
	if len(r.headers.keys) != 0 {
		t.Fatalf("keys = %v", r.headers.keys)
	}
}

func TestParseHeadersPipeliningPreserved(t *testing.T) {
	var r request
	buf := newBuf("\nHost: a\r\n\r\nGET /next HTTP/1.1\r\n")
	if got := r.parseHeaders(buf); got != parseHeaderSuccess {
		t.Fatalf("result = %v", got)
	}
	if string(buf.Bytes()) != "GET /next HTTP/1.1\r\n" {
		t.Fatalf("leftover = %q", buf.Bytes())
	}
}

func TestParseHeadersErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"no space after colon", "\nHost:x\r\n\r\n"},
		{"empty value", "\nHost: \r\n\r\n"},
		{"key without colon", "\nHost\r\n\r\n"},
		{"bare lf in key", "\nHo\nst: x\r\n\r\n"},
		{"long value", "\nA: " + strings.Repeat("v", 300) + "\r\n\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r request
			if got := r.parseHeaders(newBuf(tt.in)); got != parseHeaderError {
				t.Fatalf("result = %v, want error", got)
			}
		})
	}
}

func TestParseHeadersDuplicateOverwrites(t *testing.T) {
	var r request
	buf := newBuf("\nA: 1\r\nB: 2\r\nA: 3\r\n\r\n")
	if got := r.parseHeaders(buf); got != parseHeaderSuccess {
		t.Fatalf("result = %v", got)
	}
	if v, _ := r.headers.get("A"); v != "3" {
		t.Fatalf("A = %q", v)
	}
	if len(r.headers.keys) != 2 || r.headers.keys[0] != "A" || r.headers.keys[1] != "B" {
		t.Fatalf("keys = %v", r.headers.keys)
	}
}

// Feeding one byte at a time must produce exactly the same parse as one
// whole segment, and the machine must always come back with a verdict.
func TestParseByteAtATime(t *testing.T) {
	raw := "GET /hello HTTP/1.1\r\nHost: a\r\nConnection: keep-alive\r\n\r\n"
	var r request
	buf := &tls.MsgBuffer{}
	state := stateParseURI
	for i := 0; i < len(raw); i++ {
		buf.Write([]byte{raw[i]})
		if state == stateParseURI {
			switch r.parseRequestLine(buf) {
			case parseURIError:
				t.Fatalf("request line error at byte %d", i)
			case parseURISuccess:
				state = stateParseHeaders
			}
		}
		if state == stateParseHeaders {
			switch r.parseHeaders(buf) {
			case parseHeaderError:
				t.Fatalf("header error at byte %d", i)
			case parseHeaderSuccess:
				state = stateAnalysis
			}
		}
	}
	if state != stateAnalysis {
		t.Fatalf("state = %v after full input", state)
	}
	if r.fileName != "hello" {
		t.Fatalf("fileName = %q", r.fileName)
	}
	if v, _ := r.headers.get("Connection"); v != "keep-alive" {
		t.Fatalf("Connection = %q", v)
	}
	if v, _ := r.headers.get("Host"); v != "a" {
		t.Fatalf("Host = %q", v)
	}
}

func TestResetIdempotent(t *testing.T) {
	var r request
	buf := newBuf("GET /x.html HTTP/1.1\r\nConnection: keep-alive\r\n\r\n")
	if got := r.parseRequestLine(buf); got != parseURISuccess {
		t.Fatalf("request line: %v", got)
	}
	if got := r.parseHeaders(buf); got != parseHeaderSuccess {
		t.Fatalf("headers: %v", got)
	}
	r.keepAlive = true

	type snapshot struct {
		method    method
		version   httpVersion
		fileName  string
		state     parseState
		hState    headerState
		keepAlive bool
		nkeys     int
	}
	take := func() snapshot {
		return snapshot{r.method, r.version, r.fileName, r.state, r.hState,
			r.keepAlive, len(r.headers.keys)}
	}
	r.reset()
	once := take()
	r.reset()
	twice := take()
	if once != twice {
		t.Fatalf("reset not idempotent: %+v vs %+v", once, twice)
	}
	if r.fileName != "" || r.state != stateParseURI || r.hState != hStart {
		t.Fatalf("reset state: %+v", r)
	}
	if !r.keepAlive {
		t.Fatal("reset dropped keepAlive")
	}
	if len(r.headers.keys) != 0 {
		t.Fatalf("headers survived reset: %v", r.headers.keys)
	}
}
