package webserver

import (
	"bytes"
	"strings"

	"github.com/luyu6056/tls"
)

type method int

const (
	methodGet method = iota
	methodPost
	methodHead
)

type httpVersion int

const (
	http10 httpVersion = iota
	http11
)

// Request-level parser states.
type parseState int

const (
	stateParseURI parseState = iota
	stateParseHeaders
	stateRecvBody
	stateAnalysis
	stateFinish
)

// Header-line sub-machine states.
type headerState int

const (
	hStart headerState = iota
	hKey
	hColon
	hSpacesAfterColon
	hValue
	hCR
	hLF
	hEndCR
	hEndLF
)

type uriResult int

const (
	parseURISuccess uriResult = iota
	parseURIAgain
	parseURIError
)

type headerResult int

const (
	parseHeaderSuccess headerResult = iota
	parseHeaderAgain
	parseHeaderError
)

const maxHeaderValueLen = 255

// headerMap stores headers in arrival order with case-sensitive keys as
// received. A key observed twice overwrites the value in place.
type headerMap struct {
	keys []string
	vals map[string]string
}

func (h *headerMap) set(key, value string) {
	if h.vals == nil {
		h.vals = make(map[string]string)
	}
	if _, ok := h.vals[key]; !ok {
		h.keys = append(h.keys, key)
	}
	h.vals[key] = value
}

func (h *headerMap) get(key string) (string, bool) {
	v, ok := h.vals[key]
	return v, ok
}

func (h *headerMap) reset() {
	h.keys = h.keys[:0]
	for k := range h.vals {
		delete(h.vals, k)
	}
}

// request is the per-connection parse state: resumable across socket reads,
// one byte at a time if that is how they arrive.
type request struct {
	method    method
	version   httpVersion
	fileName  string
	headers   headerMap
	state     parseState
	hState    headerState
	keepAlive bool
}

// reset prepares for the next request on the same connection. keepAlive
// survives; pipelined inbound bytes are the caller's to keep.
func (r *request) reset() {
	r.fileName = ""
	r.state = stateParseURI
	r.hState = hStart
	r.headers.reset()
}

// parseRequestLine consumes `METHOD SP TARGET SP HTTP/VER` up to and
// including the '\r'; the '\n' is left for the header machine to skip.
func (r *request) parseRequestLine(buf *tls.MsgBuffer) uriResult {
	b := buf.Bytes()
	cr := bytes.IndexByte(b, '\r')
	if cr < 0 {
		return parseURIAgain
	}
	line := string(b[:cr])
	buf.Shift(cr + 1)

	sp := strings.IndexByte(line, ' ')
	if sp < 0 {
		return parseURIError
	}
	switch line[:sp] {
	case "GET":
		r.method = methodGet
	case "POST":
		r.method = methodPost
	case "HEAD":
		r.method = methodHead
	default:
		return parseURIError
	}

	slash := strings.IndexByte(line[sp:], '/')
	if slash < 0 {
		r.fileName = "index.html"
		r.version = http11
		return parseURISuccess
	}
	slash += sp
	end := strings.IndexByte(line[slash:], ' ')
	if end < 0 {
		return parseURIError
	}
	end += slash
	if end-slash > 1 {
		name := line[slash+1 : end]
		if q := strings.IndexByte(name, '?'); q >= 0 {
			name = name[:q]
		}
		if name == "" {
			name = "index.html"
		}
		r.fileName = name
	} else {
		r.fileName = "index.html"
	}

	vs := strings.IndexByte(line[end:], '/')
	if vs < 0 {
		return parseURIError
	}
	vs += end
	if len(line)-vs <= 3 {
		return parseURIError
	}
	switch line[vs+1 : vs+4] {
	case "1.0":
		r.version = http10
	case "1.1":
		r.version = http11
	default:
		return parseURIError
	}
	return parseURISuccess
}

// parseHeaders runs the header-line machine over whatever is buffered.
// Separator is exactly ": ", values are capped at 255 bytes, empty keys and
// values are errors. On AGAIN the buffer is rewound to the start of the
// current line and the machine restarts there, so a request trickling in
// one byte at a time parses the same as one arriving whole.
func (r *request) parseHeaders(buf *tls.MsgBuffer) headerResult {
	b := buf.Bytes()
	var keyStart, keyEnd, valueStart, valueEnd int
	lineBegin := 0
	for i := 0; i < len(b); i++ {
		ch := b[i]
		switch r.hState {
		case hStart:
			if ch == '\n' {
				break
			}
			if ch == '\r' {
				r.hState = hEndCR
				lineBegin = i
				break
			}
			if ch == ':' {
				return parseHeaderError
			}
			r.hState = hKey
			keyStart = i
			lineBegin = i
		case hKey:
			if ch == ':' {
				keyEnd = i
				if keyEnd-keyStart <= 0 {
					return parseHeaderError
				}
				r.hState = hColon
			} else if ch == '\n' || ch == '\r' {
				return parseHeaderError
			}
		case hColon:
			if ch != ' ' {
				return parseHeaderError
			}
			r.hState = hSpacesAfterColon
		case hSpacesAfterColon:
			if ch == '\r' {
				return parseHeaderError
			}
			r.hState = hValue
			valueStart = i
		case hValue:
			if ch == '\r' {
				valueEnd = i
				if valueEnd-valueStart <= 0 {
					return parseHeaderError
				}
				r.hState = hCR
			} else if i-valueStart >= maxHeaderValueLen {
				return parseHeaderError
			}
		case hCR:
			if ch != '\n' {
				return parseHeaderError
			}
			r.headers.set(string(b[keyStart:keyEnd]), string(b[valueStart:valueEnd]))
			r.hState = hLF
			lineBegin = i + 1
		case hLF:
			if ch == '\r' {
				r.hState = hEndCR
				lineBegin = i
			} else if ch == ':' {
				return parseHeaderError
			} else {
				r.hState = hKey
				keyStart = i
				lineBegin = i
			}
		case hEndCR:
			if ch != '\n' {
				return parseHeaderError
			}
			r.hState = hEndLF
			buf.Shift(i + 1)
			return parseHeaderSuccess
		}
	}
	buf.Shift(lineBegin)
	r.hState = hStart
	return parseHeaderAgain
}
