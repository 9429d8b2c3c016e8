package gateway

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/basket/wolfpack/internal/engine"
	"github.com/basket/wolfpack/internal/shared"
)

// ExtractToken returns the bearer token from the Authorization header. When
// allowQuery is set the token query parameter is accepted too, for
// EventSource clients that cannot send headers.
func ExtractToken(r *http.Request, allowQuery bool) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	if allowQuery {
		return r.URL.Query().Get("token")
	}
	return ""
}

type userHandler func(w http.ResponseWriter, r *http.Request, userID string)

// requireUser authenticates the caller and hands the member ID to h. The
// ID is also attached to the request context for logging.
func (s *Server) requireUser(allowQuery bool, h userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := ExtractToken(r, allowQuery)
		if token == "" {
			writeError(w, r, fmt.Errorf("%w: missing bearer token", engine.ErrUnauthorized))
			return
		}
		userID, err := s.cfg.Engine.Authenticate(r.Context(), token)
		if err != nil {
			writeError(w, r, err)
			return
		}
		r = r.WithContext(shared.WithUserID(r.Context(), userID))
		h(w, r, userID)
	}
}
