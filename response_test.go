package webserver

import (
	"bytes"
	"strconv"
	"strings"
	"testing"
)

func TestErrorResponseTemplate(t *testing.T) {
	got := string(errorResponse(400, "Bad Request"))
	wantBody := `<html><title>哎~出错了</title><body bgcolor="ffffff">400 Bad Request` +
		"<hr><em> LinYa's Web Server</em>\n</body></html>"
	wantHeader := "HTTP/1.1 400 Bad Request\r\n" +
		"Content-Type: text/html\r\n" +
		"Connection: Close\r\n" +
		"Content-Length: " + strconv.Itoa(len(wantBody)) + "\r\n" +
		"Server: LinYa's Web Server\r\n\r\n"
	if got != wantHeader+wantBody {
		t.Fatalf("errorResponse =\n%q\nwant\n%q", got, wantHeader+wantBody)
	}
}

func TestErrorResponseNotFound(t *testing.T) {
	got := string(errorResponse(404, "Not Found!"))
	if !strings.HasPrefix(got, "HTTP/1.1 404 Not Found!\r\n") {
		t.Fatalf("status line: %q", got[:40])
	}
	if !strings.Contains(got, "404 Not Found!<hr>") {
		t.Fatal("body missing code and message")
	}
}

func TestMimeType(t *testing.T) {
	tests := []struct {
		suffix, want string
	}{
		{".html", "text/html"},
		{".png", "image/png"},
		{".js", "application/javascript"},
		{".mp3", "audio/mp3"},
		{".weird", "text/html"},
		{"", "text/html"},
	}
	for _, tt := range tests {
		if got := mimeType(tt.suffix); got != tt.want {
			t.Errorf("mimeType(%q) = %q, want %q", tt.suffix, got, tt.want)
		}
	}
}

func TestFaviconPayload(t *testing.T) {
	if len(favicon) != 555 {
		t.Fatalf("favicon length = %d, want 555", len(favicon))
	}
	if !bytes.HasPrefix(favicon, []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}) {
		t.Fatal("favicon is not a PNG")
	}
}

func TestHelloResponseLiteral(t *testing.T) {
	want := "HTTP/1.1 200 OK\r\nContent-type: text/plain\r\n\r\nHello World"
	if helloResponse != want {
		t.Fatalf("helloResponse = %q", helloResponse)
	}
}
