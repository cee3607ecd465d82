package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"slidegen/internal/parser"
	"slidegen/internal/render"
	"slidegen/internal/session"
	"slidegen/internal/slides"
)

type extractResponse struct {
	Text       string            `json:"text"`
	Characters int               `json:"characters"`
	Format     string            `json:"format"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Warning    string            `json:"warning,omitempty"`
}

type generateRequest struct {
	Topic        string `json:"topic"`
	DocumentText string `json:"document_text"`
}

type presentationResponse struct {
	Presentation   *slides.Presentation  `json:"presentation"`
	Fallback       bool                  `json:"fallback"`
	FallbackReason slides.FallbackReason `json:"fallback_reason"`
	Warnings       []string              `json:"warnings"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

func newPresentationResponse(e *session.Entry) presentationResponse {
	warnings := e.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return presentationResponse{
		Presentation:   e.Presentation,
		Fallback:       e.UsedFallback(),
		FallbackReason: e.Reason,
		Warnings:       warnings,
		UpdatedAt:      e.UpdatedAt,
	}
}

// HandleHealth reports liveness and whether a presentation is stored.
func HandleHealth(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"status":           "ok",
			"has_presentation": app.Current() != nil,
		})
	}
}

// HandleExtract reads the uploaded "file" and returns its plain text.
// Unsupported or unreadable documents still answer 200 with empty text
// and a warning so the client can continue without document context.
func HandleExtract(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := parseUploadForm(w, r, app.MaxUploadBytes()); err != nil {
			writeFormError(w, app, err)
			return
		}
		up, err := readUpload(r, app.MaxUploadBytes())
		if err != nil {
			writeUploadError(w, app, err)
			return
		}

		ext, warn := app.ExtractDocument(up.Data, up.MIME)
		resp := extractResponse{
			Text:       ext.Text,
			Characters: ext.Characters,
			Format:     ext.Format,
			Metadata:   ext.Metadata,
		}
		if warn != nil {
			resp.Warning = extractionWarning(up.Name, warn)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// HandleGenerate accepts either a JSON body {topic, document_text} or a
// multipart form with "topic" and an optional "file". The response is 200
// even when fallback content was used.
func HandleGenerate(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			req      generateRequest
			warnings []string
		)

		if isMultipart(r) {
			if err := parseUploadForm(w, r, app.MaxUploadBytes()); err != nil {
				writeFormError(w, app, err)
				return
			}
			req.Topic = r.FormValue("topic")
			req.DocumentText = r.FormValue("document_text")

			up, err := readUpload(r, app.MaxUploadBytes())
			switch {
			case errors.Is(err, http.ErrMissingFile):
			case err != nil:
				writeUploadError(w, app, err)
				return
			default:
				ext, warn := app.ExtractDocument(up.Data, up.MIME)
				if warn != nil {
					warnings = append(warnings, extractionWarning(up.Name, warn))
				} else {
					req.DocumentText = ext.Text
				}
			}
		} else if err := ReadJSONBody(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		entry, err := app.Generate(r.Context(), req.Topic, req.DocumentText, warnings...)
		if err != nil {
			if errors.Is(err, ErrEmptyTopic) {
				WriteError(w, http.StatusBadRequest, err.Error())
				return
			}
			app.logger.Error("generation failed", zap.Error(err))
			WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, newPresentationResponse(entry))
	}
}

// HandleCurrent returns the stored presentation.
func HandleCurrent(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry := app.Current()
		if entry == nil {
			WriteError(w, http.StatusNotFound, ErrNoPresentation.Error())
			return
		}
		WriteJSON(w, http.StatusOK, newPresentationResponse(entry))
	}
}

// HandleClearCurrent empties the session slot.
func HandleClearCurrent(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]bool{"cleared": app.ClearCurrent()})
	}
}

// HandlePDF renders the stored presentation and streams it as a download.
func HandlePDF(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, filename, err := app.RenderCurrent(r.Context())
		switch {
		case errors.Is(err, ErrNoPresentation):
			WriteError(w, http.StatusNotFound, err.Error())
			return
		case errors.Is(err, render.ErrPDFBuild):
			WriteError(w, http.StatusInternalServerError, err.Error())
			return
		case err != nil:
			app.logger.Error("pdf download failed", zap.Error(err))
			WriteError(w, http.StatusInternalServerError, "failed to render presentation")
			return
		}

		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		w.Header().Set("Content-Length", strconv.Itoa(len(doc.Data)))
		w.WriteHeader(http.StatusOK)
		w.Write(doc.Data)
	}
}

func writeFormError(w http.ResponseWriter, app *App, err error) {
	if errors.Is(err, errFileTooLarge) {
		writeUploadError(w, app, err)
		return
	}
	WriteError(w, http.StatusBadRequest, "failed to parse multipart form")
}

func writeUploadError(w http.ResponseWriter, app *App, err error) {
	switch {
	case errors.Is(err, http.ErrMissingFile):
		WriteError(w, http.StatusBadRequest, "missing file in upload")
	case errors.Is(err, errFileTooLarge):
		WriteError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file exceeds the %s upload limit", humanize.IBytes(uint64(app.MaxUploadBytes()))))
	default:
		app.logger.Warn("upload read failed", zap.Error(err))
		WriteError(w, http.StatusInternalServerError, "failed to read file")
	}
}

func extractionWarning(name string, err error) string {
	msg := fmt.Sprintf("could not extract document text: %v", err)
	if name != "" {
		msg = fmt.Sprintf("could not extract text from %s: %v", name, err)
	}
	if errors.Is(err, parser.ErrUnsupportedFormat) {
		msg += "; supported types: " + strings.Join(parser.SupportedMIMETypes(), ", ")
	}
	return msg
}
