package webui

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"github.com/pocketfw/savestore/internal/clock"
	"github.com/pocketfw/savestore/internal/flash"
	"github.com/pocketfw/savestore/internal/storage"
)

func newTestHandler(t *testing.T) (*Handler, *storage.Manager, *mux.Router) {
	t.Helper()
	drv := flash.NewMemDriver(10 * 1024 * 1024)
	store, err := storage.New(drv, clock.Fixed(1700000000))
	if err != nil {
		t.Fatalf("failed to initialize storage: %v", err)
	}
	h, err := New(store, 1024*1024)
	if err != nil {
		t.Fatalf("failed to create handler: %v", err)
	}
	r := mux.NewRouter()
	h.Routes(r)
	return h, store, r
}

func TestHealthHandler(t *testing.T) {
	_, _, r := newTestHandler(t)

	req := httptest.NewRequest("GET", "/api/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload struct {
		Status   string `json:"status"`
		Geometry struct {
			BlockSize  uint32 `json:"block_size"`
			BlockCount uint32 `json:"block_count"`
		} `json:"geometry"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode health: %v", err)
	}
	if payload.Status != "ok" {
		t.Errorf("expected status ok, got %q", payload.Status)
	}
	if payload.Geometry.BlockSize != 4096 || payload.Geometry.BlockCount != 2560 {
		t.Errorf("unexpected geometry: %+v", payload.Geometry)
	}
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	_, _, r := newTestHandler(t)

	// Upload a save file through the multipart endpoint.
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "zelda.sav")
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	payload := "link's inventory"
	if _, err := io.Copy(fw, strings.NewReader(payload)); err != nil {
		t.Fatalf("failed to write form file: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest("POST", "/api/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("upload failed with %d: %s", rec.Code, rec.Body.String())
	}

	// Download it back.
	req = httptest.NewRequest("GET", "/api/files/zelda.sav", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("download failed with %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != payload {
		t.Errorf("expected %q, got %q", payload, rec.Body.String())
	}
}

func TestListIncludesTimestamps(t *testing.T) {
	_, store, r := newTestHandler(t)

	if _, err := store.WriteFile("/metroid.sav", strings.NewReader("samus")); err != nil {
		t.Fatalf("failed to seed store: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/files", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("list failed with %d", rec.Code)
	}
	var entries []storage.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("failed to decode listing: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %v", entries)
	}
	if entries[0].Name != "/metroid.sav" || entries[0].SavedAt != 1700000000 {
		t.Errorf("unexpected entry: %+v", entries[0])
	}
}

func TestDownloadMissingFile(t *testing.T) {
	_, _, r := newTestHandler(t)

	req := httptest.NewRequest("GET", "/api/files/nope.sav", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}
