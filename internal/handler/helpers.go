package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"slidegen/internal/parser"
)

// WriteJSON encodes data as JSON and writes it to the response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// WriteError writes a JSON error response with the given status code and message.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// ReadJSONBody decodes the request body as JSON into v.
// It validates Content-Type, limits body size to 1MB, and rejects trailing data.
func ReadJSONBody(r *http.Request, v interface{}) error {
	ct := r.Header.Get("Content-Type")
	if ct != "" && !strings.HasPrefix(ct, "application/json") {
		return fmt.Errorf("expected Content-Type application/json")
	}
	defer r.Body.Close()
	limited := io.LimitReader(r.Body, 1<<20)
	decoder := json.NewDecoder(limited)
	if err := decoder.Decode(v); err != nil {
		return err
	}
	if decoder.More() {
		return fmt.Errorf("unexpected trailing data in request body")
	}
	return nil
}

// isMultipart reports whether the request carries a multipart form.
func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

// errFileTooLarge is returned when the file or the whole body exceeds the limit.
var errFileTooLarge = errors.New("file exceeds upload limit")

// upload is a file read from a multipart form.
type upload struct {
	Name string
	MIME string
	Data []byte
}

// parseUploadForm bounds the body and parses the multipart form. A body
// cut off by the bound yields errFileTooLarge.
func parseUploadForm(w http.ResponseWriter, r *http.Request, maxBytes int64) error {
	// file limit + 1MB for form overhead
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1<<20)
	err := r.ParseMultipartForm(32 << 20)
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return errFileTooLarge
	}
	return err
}

// readUpload reads the "file" field of an already parsed form. A missing
// field returns (nil, http.ErrMissingFile).
func readUpload(r *http.Request, maxBytes int64) (*upload, error) {
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, errFileTooLarge
	}
	return &upload{
		Name: header.Filename,
		MIME: uploadMIME(header),
		Data: data,
	}, nil
}

// uploadMIME trusts the declared part type unless it is missing or generic,
// in which case the file extension decides.
func uploadMIME(h *multipart.FileHeader) string {
	mt := strings.TrimSpace(h.Header.Get("Content-Type"))
	if mt == "" || strings.HasPrefix(strings.ToLower(mt), "application/octet-stream") {
		return parser.MIMEForFilename(h.Filename)
	}
	return mt
}
