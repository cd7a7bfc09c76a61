package serialmux

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

// localHostRequest creates an httptest request that appears to come from localhost.
// This bypasses tsweb.AllowDebugAccess which checks for loopback IPs.
func localHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

// TestAttachAdminRoutes_SendCommandAPI tests the send-command-api endpoint
func TestAttachAdminRoutes_SendCommandAPI(t *testing.T) {
	port := NewTestSerialPort("")
	mux := NewSerialMux(port)

	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	tests := []struct {
		name           string
		method         string
		formData       url.Values
		expectedStatus int
		checkBody      func(t *testing.T, body string)
	}{
		{
			name:           "valid POST with command",
			method:         http.MethodPost,
			formData:       url.Values{"command": {"ECHO OFF"}},
			expectedStatus: http.StatusOK,
			checkBody: func(t *testing.T, body string) {
				if !strings.Contains(body, "ECHO OFF") {
					t.Errorf("Expected response to contain command 'ECHO OFF', got: %s", body)
				}
			},
		},
		{
			name:           "POST with empty command",
			method:         http.MethodPost,
			formData:       url.Values{"command": {""}},
			expectedStatus: http.StatusBadRequest,
			checkBody: func(t *testing.T, body string) {
				if !strings.Contains(body, "Missing command") {
					t.Errorf("Expected 'Missing command' error, got: %s", body)
				}
			},
		},
		{
			name:           "POST with whitespace-only command",
			method:         http.MethodPost,
			formData:       url.Values{"command": {"   "}},
			expectedStatus: http.StatusBadRequest,
			checkBody: func(t *testing.T, body string) {
				if !strings.Contains(body, "Missing command") {
					t.Errorf("Expected 'Missing command' error, got: %s", body)
				}
			},
		},
		{
			name:           "POST without command parameter",
			method:         http.MethodPost,
			formData:       url.Values{},
			expectedStatus: http.StatusBadRequest,
			checkBody: func(t *testing.T, body string) {
				if !strings.Contains(body, "Missing command") {
					t.Errorf("Expected 'Missing command' error, got: %s", body)
				}
			},
		},
		{
			name:           "GET method not allowed",
			method:         http.MethodGet,
			formData:       nil,
			expectedStatus: http.StatusMethodNotAllowed,
			checkBody: func(t *testing.T, body string) {
				if !strings.Contains(body, "Method not allowed") {
					t.Errorf("Expected 'Method not allowed' error, got: %s", body)
				}
			},
		},
		{
			name:           "PUT method not allowed",
			method:         http.MethodPut,
			formData:       nil,
			expectedStatus: http.StatusMethodNotAllowed,
			checkBody:      nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.formData != nil {
				body = strings.NewReader(tt.formData.Encode())
			}

			req := localHostRequest(tt.method, "/debug/send-command-api", body)
			if tt.formData != nil {
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}

			w := httptest.NewRecorder()
			httpMux.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d. Body: %s", tt.expectedStatus, w.Code, w.Body.String())
			}

			if w.Code == tt.expectedStatus && tt.checkBody != nil {
				tt.checkBody(t, w.Body.String())
			}
		})
	}

	// The successful command must have reached the console port.
	if !strings.Contains(port.WrittenData(), "ECHO OFF\n") {
		t.Errorf("Expected command to be written to port, written: %q", port.WrittenData())
	}
}

// TestAttachAdminRoutes_SendCommandAPI_WriteError tests error handling when writing to port fails
func TestAttachAdminRoutes_SendCommandAPI_WriteError(t *testing.T) {
	port := NewTestSerialPort("")
	mux := NewSerialMux(port)

	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	// Set write error on the port
	port.SetWriteError(io.ErrShortWrite)

	formData := url.Values{"command": {"ECHO OFF"}}
	req := localHostRequest(http.MethodPost, "/debug/send-command-api", strings.NewReader(formData.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d. Body: %s", w.Code, w.Body.String())
	}
}

// TestAttachAdminRoutes_Tail_MethodNotAllowed verifies POST to the tail
// stream is rejected
func TestAttachAdminRoutes_Tail_MethodNotAllowed(t *testing.T) {
	port := NewTestSerialPort("")
	mux := NewSerialMux(port)

	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	req := localHostRequest(http.MethodPost, "/debug/tail", nil)
	w := httptest.NewRecorder()

	httpMux.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

// TestAttachAdminRoutes_Tail_StreamsConsoleLines drives the real tail
// route end to end: console lines arrive as SSE data frames
func TestAttachAdminRoutes_Tail_StreamsConsoleLines(t *testing.T) {
	// The paced port holds its line back until well after the tail handler
	// has subscribed; a line read before then has no subscriber to reach.
	port := NewPacedSerialPort(50*time.Millisecond, "3TIME:0:12:45")
	mux := NewSerialMux(port)

	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	monCtx, monCancel := context.WithCancel(context.Background())
	defer monCancel()
	go mux.Monitor(monCtx)

	reqCtx, reqCancel := context.WithCancel(context.Background())
	req := localHostRequest(http.MethodGet, "/debug/tail", nil).WithContext(reqCtx)
	w := httptest.NewRecorder()

	handlerDone := make(chan struct{})
	go func() {
		httpMux.ServeHTTP(w, req)
		close(handlerDone)
	}()

	// Give the stream time to deliver the line, then disconnect.
	time.Sleep(300 * time.Millisecond)
	reqCancel()

	select {
	case <-handlerDone:
	case <-time.After(time.Second):
		t.Fatal("tail handler did not exit after client disconnect")
	}

	body := w.Body.String()
	if !strings.Contains(body, ": ping") {
		t.Errorf("Expected body to contain ping, got %q", body)
	}
	if !strings.Contains(body, "data: 3TIME:0:12:45") {
		t.Errorf("Expected body to contain the console line, got %q", body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Expected Content-Type 'text/event-stream', got %q", ct)
	}
}

// TestAttachAdminRoutes_SendCommand tests the send-command HTML page
func TestAttachAdminRoutes_SendCommand(t *testing.T) {
	port := NewTestSerialPort("")
	mux := NewSerialMux(port)

	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	req := localHostRequest(http.MethodGet, "/debug/send-command", nil)
	w := httptest.NewRecorder()

	httpMux.ServeHTTP(w, req)

	// Should return 200 for valid GET request
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d. Body: %s", w.Code, w.Body.String())
	}

	// Check that the response looks like HTML
	if w.Code == http.StatusOK {
		body := w.Body.String()
		if !strings.Contains(body, "html") && !strings.Contains(body, "HTML") && !strings.Contains(body, "<") {
			t.Error("Response doesn't appear to be HTML")
		}
	}
}

// TestAttachAdminRoutes_TailJS tests the tail.js endpoint
func TestAttachAdminRoutes_TailJS(t *testing.T) {
	port := NewTestSerialPort("")
	mux := NewSerialMux(port)

	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	req := localHostRequest(http.MethodGet, "/debug/tail.js", nil)
	w := httptest.NewRecorder()

	httpMux.ServeHTTP(w, req)

	// Should return 200 for valid GET request
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d. Body: %s", w.Code, w.Body.String())
	}

	// Check that the response looks like JavaScript
	if w.Code == http.StatusOK {
		contentType := w.Header().Get("Content-Type")
		if !strings.Contains(contentType, "javascript") {
			t.Errorf("Expected Content-Type to contain 'javascript', got: %s", contentType)
		}
	}
}
