// Package webui is the HTTP file manager for the save store: listing with
// save timestamps, download, upload, and health.
package webui

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"path"
	"time"

	"github.com/gorilla/mux"

	"github.com/pocketfw/savestore/internal/storage"
)

// Handler manages HTTP requests for the web UI
type Handler struct {
	store     *storage.Manager
	templates *template.Template
	maxUpload int64
}

// New creates a new web UI handler
func New(store *storage.Manager, maxUploadBytes int64) (*Handler, error) {
	tmpl, err := template.New("index").Parse(indexTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	return &Handler{
		store:     store,
		templates: tmpl,
		maxUpload: maxUploadBytes,
	}, nil
}

// Routes registers all handlers on the router.
func (h *Handler) Routes(r *mux.Router) {
	r.HandleFunc("/", h.IndexHandler).Methods("GET")
	r.HandleFunc("/api/files", h.ListHandler).Methods("GET")
	r.HandleFunc("/api/files/{name:.+}", h.DownloadHandler).Methods("GET")
	r.HandleFunc("/api/upload", h.UploadHandler).Methods("POST")
	r.HandleFunc("/api/health", h.HealthHandler).Methods("GET")
}

type indexData struct {
	Entries []indexEntry
}

type indexEntry struct {
	Name    string
	Size    int64
	SavedAt string
}

// IndexHandler serves the file listing page
func (h *Handler) IndexHandler(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.List()
	if err != nil {
		log.Printf("Error listing files: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	data := indexData{}
	for _, e := range entries {
		saved := ""
		if e.SavedAt != 0 {
			saved = time.Unix(e.SavedAt, 0).UTC().Format(time.RFC3339)
		}
		data.Entries = append(data.Entries, indexEntry{Name: e.Name, Size: e.Size, SavedAt: saved})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.templates.ExecuteTemplate(w, "index", data); err != nil {
		log.Printf("Error rendering template: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// ListHandler returns the stored files with their save timestamps
func (h *Handler) ListHandler(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.List()
	if err != nil {
		log.Printf("Error listing files: %v", err)
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []storage.Entry{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(entries); err != nil {
		log.Printf("Error encoding listing: %v", err)
	}
}

// DownloadHandler streams one stored file to the client
func (h *Handler) DownloadHandler(w http.ResponseWriter, r *http.Request) {
	name := "/" + mux.Vars(r)["name"]

	// Save files are small; buffering keeps the status code honest when
	// the read fails.
	var buf bytes.Buffer
	if _, err := h.store.ReadFile(name, &buf); err != nil {
		log.Printf("Error reading %s: %v", name, err)
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(name)))
	w.Write(buf.Bytes())
}

// UploadHandler stores uploaded files using a streaming multipart reader
func (h *Handler) UploadHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	reader, err := r.MultipartReader()
	if err != nil {
		log.Printf("Error creating multipart reader: %v", err)
		http.Error(w, "Invalid multipart request", http.StatusBadRequest)
		return
	}

	var filename string
	var fileSize int64
	var part *multipart.Part

	for {
		part, err = reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Printf("Error reading multipart part: %v", err)
			http.Error(w, "Error reading upload", http.StatusBadRequest)
			return
		}

		// Only process file parts
		if part.FormName() != "file" {
			part.Close()
			continue
		}

		filename = part.FileName()
		if filename == "" {
			part.Close()
			http.Error(w, "Empty filename", http.StatusBadRequest)
			return
		}

		// Sanitize the filename to prevent path traversal
		filename = path.Base(filename)
		filePath := "/" + filename

		log.Printf("Uploading file: %s", filename)

		fileSize, err = h.store.WriteFile(filePath, part)
		part.Close()

		if err != nil {
			log.Printf("Error writing file to store: %v", err)
			writeError(w, err)
			return
		}

		// Break after processing the first file
		break
	}

	if filename == "" {
		http.Error(w, "No file provided", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"success": true, "filename": "%s", "size": %d}`, filename, fileSize)
	log.Printf("Successfully uploaded: %s (%d bytes)", filename, fileSize)
}

// HealthHandler reports service health and the block device geometry
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	payload := struct {
		Status      string `json:"status"`
		OpenHandles int    `json:"open_handles"`
		Geometry    any    `json:"geometry"`
	}{
		Status:      "ok",
		OpenHandles: h.store.OpenHandles(),
		Geometry:    h.store.Geometry(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Error encoding health: %v", err)
	}
}

// writeError maps storage errors onto HTTP statuses with a JSON body.
func writeError(w http.ResponseWriter, err error) {
	var statusCode int
	var errorMessage string

	switch {
	case errors.Is(err, storage.ErrNotFound):
		statusCode = http.StatusNotFound
		errorMessage = "File not found."
	case errors.Is(err, storage.ErrPoolExhausted):
		statusCode = http.StatusServiceUnavailable
		errorMessage = "All file handles are busy. Try again shortly."
	case errors.Is(err, storage.ErrCompressionBusy):
		statusCode = http.StatusConflict
		errorMessage = "Compression slot is busy. Try again shortly."
	default:
		statusCode = http.StatusInternalServerError
		errorMessage = fmt.Sprintf("Storage operation failed: %v", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	body := struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}{false, errorMessage}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Error encoding error response: %v", err)
	}
}
