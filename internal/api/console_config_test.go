package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Sylteon/uzlarska-regata/internal/db"
	"github.com/Sylteon/uzlarska-regata/internal/testutil"
)

func TestConsoleConfigEndpoints(t *testing.T) {
	server, _ := setupTestServer(t)
	mux := server.ServeMux()

	// Test GET /api/console/configs - empty store
	t.Run("GET /api/console/configs", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/console/configs", nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		testutil.AssertStatusCode(t, w.Code, http.StatusOK)

		var configs []db.SerialConfig
		testutil.DecodeJSON(t, w.Body, &configs)

		if len(configs) != 0 {
			t.Errorf("Expected no configs in a fresh store, got %d", len(configs))
		}
	})

	// Test POST /api/console/configs - create new config
	var createdID int
	t.Run("POST /api/console/configs", func(t *testing.T) {
		reqBody := ConsoleConfigRequest{
			Name:        "Finish tower",
			PortPath:    "/dev/ttyUSB0",
			BaudRate:    9600,
			DataBits:    8,
			StopBits:    1,
			Parity:      "N",
			Enabled:     true,
			Description: "Console in the finish tower",
		}

		body, _ := json.Marshal(reqBody)
		req := httptest.NewRequest("POST", "/api/console/configs", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		if w.Code != http.StatusCreated {
			t.Errorf("Expected status 201, got %d. Body: %s", w.Code, w.Body.String())
		}

		var created db.SerialConfig
		testutil.DecodeJSON(t, w.Body, &created)

		if created.Name != reqBody.Name {
			t.Errorf("Expected name '%s', got '%s'", reqBody.Name, created.Name)
		}

		createdID = created.ID
	})

	// Test that serial parameter defaults are applied on create
	t.Run("POST applies 9600 8N1 defaults", func(t *testing.T) {
		reqBody := ConsoleConfigRequest{
			Name:     "Bare minimum",
			PortPath: "/dev/ttyUSB1",
		}

		body, _ := json.Marshal(reqBody)
		req := httptest.NewRequest("POST", "/api/console/configs", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		if w.Code != http.StatusCreated {
			t.Fatalf("Expected status 201, got %d. Body: %s", w.Code, w.Body.String())
		}

		var created db.SerialConfig
		testutil.DecodeJSON(t, w.Body, &created)

		if created.BaudRate != 9600 || created.DataBits != 8 || created.StopBits != 1 || created.Parity != "N" {
			t.Errorf("Expected 9600 8N1 defaults, got %d %d%s%d",
				created.BaudRate, created.DataBits, created.Parity, created.StopBits)
		}
	})

	// Test GET /api/console/configs/:id
	t.Run("GET /api/console/configs/:id", func(t *testing.T) {
		req := httptest.NewRequest("GET", fmt.Sprintf("/api/console/configs/%d", createdID), nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		testutil.AssertStatusCode(t, w.Code, http.StatusOK)

		var config db.SerialConfig
		testutil.DecodeJSON(t, w.Body, &config)

		if config.ID != createdID {
			t.Errorf("Expected ID %d, got %d", createdID, config.ID)
		}
	})

	// Test PUT /api/console/configs/:id
	t.Run("PUT /api/console/configs/:id", func(t *testing.T) {
		updateReq := ConsoleConfigRequest{
			Name:        "Finish tower (spare)",
			PortPath:    "/dev/ttyUSB0",
			BaudRate:    19200,
			DataBits:    8,
			StopBits:    1,
			Parity:      "N",
			Enabled:     false,
			Description: "Updated description",
		}

		body, _ := json.Marshal(updateReq)
		req := httptest.NewRequest("PUT", fmt.Sprintf("/api/console/configs/%d", createdID), bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		testutil.AssertStatusCode(t, w.Code, http.StatusOK)

		var updated db.SerialConfig
		testutil.DecodeJSON(t, w.Body, &updated)

		if updated.Name != updateReq.Name {
			t.Errorf("Expected name '%s', got '%s'", updateReq.Name, updated.Name)
		}

		if updated.BaudRate != 19200 {
			t.Errorf("Expected baud rate 19200, got %d", updated.BaudRate)
		}
	})

	// Test duplicate name conflict
	t.Run("POST duplicate name", func(t *testing.T) {
		reqBody := ConsoleConfigRequest{
			Name:     "Finish tower (spare)",
			PortPath: "/dev/ttyUSB2",
		}

		body, _ := json.Marshal(reqBody)
		req := httptest.NewRequest("POST", "/api/console/configs", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		testutil.AssertStatusCode(t, w.Code, http.StatusConflict)
	})

	// Test DELETE /api/console/configs/:id
	t.Run("DELETE /api/console/configs/:id", func(t *testing.T) {
		req := httptest.NewRequest("DELETE", fmt.Sprintf("/api/console/configs/%d", createdID), nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		testutil.AssertStatusCode(t, w.Code, http.StatusNoContent)
	})

	// Test DELETE of a config that is already gone
	t.Run("DELETE missing config", func(t *testing.T) {
		req := httptest.NewRequest("DELETE", fmt.Sprintf("/api/console/configs/%d", createdID), nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)
	})

	// Test invalid port path
	t.Run("POST with invalid port", func(t *testing.T) {
		reqBody := ConsoleConfigRequest{
			Name:     "Invalid Port",
			PortPath: "/invalid/path",
		}

		body, _ := json.Marshal(reqBody)
		req := httptest.NewRequest("POST", "/api/console/configs", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
	})

	// Test invalid serial parameters
	t.Run("POST with invalid parity", func(t *testing.T) {
		reqBody := ConsoleConfigRequest{
			Name:     "Invalid Parity",
			PortPath: "/dev/ttyUSB3",
			Parity:   "X",
		}

		body, _ := json.Marshal(reqBody)
		req := httptest.NewRequest("POST", "/api/console/configs", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
	})

	// Test missing required fields
	t.Run("POST with missing name", func(t *testing.T) {
		reqBody := ConsoleConfigRequest{
			PortPath: "/dev/ttyUSB4",
		}

		body, _ := json.Marshal(reqBody)
		req := httptest.NewRequest("POST", "/api/console/configs", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
	})

	// Test invalid config ID in path
	t.Run("GET with invalid ID", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/console/configs/notanumber", nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
	})

	// Test unsupported method on the collection
	t.Run("PATCH method not allowed", func(t *testing.T) {
		req := httptest.NewRequest("PATCH", "/api/console/configs", nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		testutil.AssertStatusCode(t, w.Code, http.StatusMethodNotAllowed)
	})
}

// TestConsoleConfigEndpoints_NoDatabase tests the CSV-sink daemon shape
func TestConsoleConfigEndpoints_NoDatabase(t *testing.T) {
	engine := startTestEngine(t)
	server := NewServer(engine, nil, nil, "disabled")
	mux := server.ServeMux()

	req := httptest.NewRequest("GET", "/api/console/configs", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)
}
