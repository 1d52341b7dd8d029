package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"zgDrop/pkg/merkle"
	"zgDrop/pkg/storage"
)

type errorResponse struct {
	Message string `json:"message"`
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, errorResponse{Message: message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"signer": s.signer,
	})
}

// handleUpload accepts multipart field "file", spools it to the upload
// directory and hands it to the storage client. The spooled copy is removed
// whatever the outcome.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxMemory := s.config.Relay.MaxMemoryMB << 20
	if err := r.ParseMultipartForm(maxMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("Failed to parse form: %v", err))
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	src, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer src.Close()

	tmp, err := os.CreateTemp(s.config.Relay.UploadDir, "upload-*")
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to spool upload: %v", err))
		return
	}
	defer os.Remove(tmp.Name())

	size, err := io.Copy(tmp, src)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to spool upload: %v", err))
		return
	}
	s.metrics.uploadedBytes.Add(float64(size))

	name := filepath.Base(header.Filename)
	result, err := s.store.Upload(r.Context(), tmp.Name(), name)
	s.metrics.transfer("upload", err)
	if err != nil {
		logrus.Errorf("Upload of %s failed: %v", name, err)
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	logrus.Infof("Uploaded | %s | root %s | tx %s", name, result.RootHash, result.TxHash)
	s.respondJSON(w, http.StatusOK, result)
}

// handleDownload reassembles the file into a temp file and streams it back
// as an attachment.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	rootHash := r.PathValue("rootHash")
	if !merkle.IsRootHash(rootHash) {
		s.respondError(w, http.StatusBadRequest, "Invalid root hash")
		return
	}

	tmp, err := os.CreateTemp(s.config.Relay.UploadDir, "download-*")
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to create temp file: %v", err))
		return
	}
	tmp.Close()
	defer os.Remove(tmp.Name())

	manifest, err := s.store.Download(r.Context(), rootHash, tmp.Name())
	s.metrics.transfer("download", err)
	if err != nil {
		logrus.Warnf("Download of %s failed: %v", rootHash, err)
		status := http.StatusInternalServerError
		if errors.Is(err, storage.ErrNotFound) {
			status = http.StatusNotFound
		}
		s.respondError(w, status, err.Error())
		return
	}

	f, err := os.Open(tmp.Name())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer f.Close()

	name := manifest.FileName
	if name == "" {
		name = rootHash
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("X-Root-Hash", rootHash)
	http.ServeContent(w, r, name, time.Unix(manifest.CreatedAt, 0), f)
}
