package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"home-library/internal/models"
	"home-library/internal/query"
)

type libraryView struct {
	models.Library
	NumItems int `json:"numItems"`
}

func (h *serverHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *serverHandler) handleLibraries(w http.ResponseWriter, r *http.Request) {
	libs := h.visible(r.Context())
	views := make([]libraryView, 0, len(libs))
	for _, lib := range libs {
		views = append(views, libraryView{Library: lib.Info(), NumItems: len(lib.Snapshot())})
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"libraries": views})
}

func (h *serverHandler) handleItems(w http.ResponseWriter, r *http.Request) {
	lib, req, ok := h.listRequest(w, r)
	if !ok {
		return
	}
	page, err := h.query.ListItems(r.Context(), lib.Info(), lib.Snapshot(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, page)
}

func (h *serverHandler) handleSeries(w http.ResponseWriter, r *http.Request) {
	lib, req, ok := h.listRequest(w, r)
	if !ok {
		return
	}
	page, err := h.query.ListSeries(r.Context(), lib.Info(), lib.Snapshot(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, page)
}

// listRequest resolves the library and decodes the listing options shared by
// the items and series endpoints.
func (h *serverHandler) listRequest(w http.ResponseWriter, r *http.Request) (LibrarySource, query.ListRequest, bool) {
	lib, err := h.library(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return nil, query.ListRequest{}, false
	}
	req, err := query.DecodeListRequest(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, query.ListRequest{}, false
	}
	req.UserID = callerFrom(r.Context()).token
	return lib, req, true
}

func (h *serverHandler) handleSearch(w http.ResponseWriter, r *http.Request) {
	lib, err := h.library(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	req, err := query.DecodeSearchRequest(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	results, err := h.query.Search(r.Context(), lib.Info(), lib.Snapshot(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, results)
}

func (h *serverHandler) handleItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.findItem(r, mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, item)
}

func (h *serverHandler) handleEpisodeFinished(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	item, err := h.findItem(r, vars["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	episodeID := vars["episodeId"]
	found := false
	for _, ep := range item.Media.Episodes {
		if ep.ID == episodeID {
			found = true
			break
		}
	}
	if !found {
		h.writeError(w, r, fmt.Errorf("episode %s: %w", episodeID, errUnknownItem))
		return
	}
	if h.progress == nil {
		w.WriteHeader(http.StatusNotImplemented)
		return
	}

	finished := r.Method == http.MethodPut
	userID := callerFrom(r.Context()).token
	if err := h.progress.SetEpisodeFinished(r.Context(), userID, item.ID, episodeID, finished); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// findItem looks an item up across the libraries the caller may see.
func (h *serverHandler) findItem(r *http.Request, id string) (*models.LibraryItem, error) {
	for _, lib := range h.visible(r.Context()) {
		if item, ok := lib.Item(id); ok {
			return item, nil
		}
	}
	return nil, fmt.Errorf("item %s: %w", id, errUnknownItem)
}
