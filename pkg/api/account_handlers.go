package api

import (
	"net/http"

	"github.com/subloop/subloop/pkg/httputil"
	"github.com/subloop/subloop/pkg/middleware"
)

// handleMe is GET /api/me (session required)
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	account := middleware.AccountFromRequest(r)
	if account == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, NewAccountResponse(account))
}
