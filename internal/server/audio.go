package server

import (
	"errors"
	"net/http"
	"os"
	pathpkg "path"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

func (h *serverHandler) handleAudio(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	lib, err := h.library(r.Context(), vars["library"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rel := strings.TrimPrefix(pathpkg.Clean("/"+vars["path"]), "/")
	if rel == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	root, err := filepath.Abs(lib.Info().Path)
	if err != nil {
		h.logger.WithError(err).WithField("library", lib.Info().ID).Error("failed to resolve library root")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	resolved := filepath.Join(root, filepath.FromSlash(rel))
	if !pathWithinRoot(root, resolved) {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	info, err := os.Stat(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.logger.WithError(err).WithFields(logrus.Fields{"path": resolved}).Error("failed to stat audio file")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if info.IsDir() {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", mimeTypeForFilename(resolved))
	http.ServeFile(w, r, resolved)
}

func pathWithinRoot(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	return rel != ".." && !strings.HasPrefix(rel, "../")
}
