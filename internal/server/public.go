package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"examline/internal/engine"
)

// registerUploads mounts the two multipart endpoints directly on the router;
// file uploads bypass the JSON operation layer.
func registerUploads(router chi.Router, basePath string, cfg Config) {
	router.Post(basePath+"/demands/{demand_id}/submissions", createSubmissionHandler(cfg))
	router.Post(basePath+"/submissions/{id}/proof", attachProofHandler(cfg))
}

func createSubmissionHandler(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, cfg.Engine.Config.Uploads.MaxBytes)
		if err := r.ParseMultipartForm(cfg.Engine.Config.Uploads.MaxBytes); err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "invalid multipart form or file too large", nil))
			return
		}
		opts := engine.SubmissionCreateOptions{
			DemandID:  chi.URLParam(r, "demand_id"),
			Name:      r.FormValue("name"),
			Handle:    r.FormValue("handle"),
			Email:     r.FormValue("email"),
			PayoutKey: r.FormValue("payout_key"),
			ActorID:   "public",
		}
		if file, header, err := r.FormFile("proof"); err == nil {
			defer file.Close()
			path, saveErr := saveUpload(cfg, file, header)
			if saveErr != nil {
				respondStatusError(w, handleError(saveErr))
				return
			}
			opts.ProofPath = path
		}
		s, pos, err := cfg.Engine.CreateSubmission(r.Context(), opts)
		if err != nil {
			if opts.ProofPath != "" {
				os.Remove(opts.ProofPath)
			}
			respondStatusError(w, handleError(err))
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"submission": s,
			"position":   pos,
		})
	}
}

func attachProofHandler(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "invalid submission id", nil))
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, cfg.Engine.Config.Uploads.MaxBytes)
		if err := r.ParseMultipartForm(cfg.Engine.Config.Uploads.MaxBytes); err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "invalid multipart form or file too large", nil))
			return
		}
		file, header, err := r.FormFile("proof")
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "proof file is required", nil))
			return
		}
		defer file.Close()
		path, err := saveUpload(cfg, file, header)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		s, err := cfg.Engine.AttachProof(r.Context(), id, path, "public")
		if err != nil {
			os.Remove(path)
			respondStatusError(w, handleError(err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"submission": s})
	}
}

// saveUpload sniffs the real content type, enforces the allowlist, and
// stores the file under the uploads dir with a fresh name.
func saveUpload(cfg Config, file multipart.File, header *multipart.FileHeader) (string, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	head = head[:n]
	contentType := http.DetectContentType(head)
	if !allowedType(cfg.Engine.Config.Uploads.AllowedTypes, contentType) {
		return "", &engine.ValidationError{Field: "proof", Msg: fmt.Sprintf("unsupported file type %s", contentType)}
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	if err := os.MkdirAll(cfg.UploadsDir, 0o755); err != nil {
		return "", err
	}
	name := uuid.NewString() + extForType(contentType)
	path := filepath.Join(cfg.UploadsDir, name)
	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, file); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func allowedType(allowed []string, contentType string) bool {
	for _, t := range allowed {
		if t == contentType {
			return true
		}
	}
	return false
}

func extForType(contentType string) string {
	switch contentType {
	case "application/pdf":
		return ".pdf"
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
