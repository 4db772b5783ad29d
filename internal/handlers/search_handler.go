package handlers

import (
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/corpus/internal/interfaces"
)

// SearchHandler handles HTTP requests against the full-text index
type SearchHandler struct {
	search interfaces.SearchSink
	logger arbor.ILogger
}

// NewSearchHandler creates a new SearchHandler
func NewSearchHandler(search interfaces.SearchSink, logger arbor.ILogger) *SearchHandler {
	return &SearchHandler{
		search: search,
		logger: logger,
	}
}

// SearchHandler handles GET /api/search?q={query}&limit={n}
func (h *SearchHandler) SearchHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		WriteError(w, http.StatusBadRequest, "Query parameter 'q' is required")
		return
	}
	limit := QueryInt(r, "limit", 10)

	hits, err := h.search.Search(r.Context(), query, limit)
	if err != nil {
		h.logger.Error().Err(err).Str("query", query).Msg("Search failed")
		WriteError(w, http.StatusInternalServerError, "Search failed")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"query": query,
		"hits":  hits,
		"count": len(hits),
	})
}
