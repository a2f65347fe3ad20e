package company

import (
	"net/http"

	"github.com/minifleet/minifleet/auth"
	resp "github.com/minifleet/minifleet/response"

	"go.uber.org/zap"
)

// EntitledOnly returns a http middleware that rejects requests from companies
// whose subscription status does not permit mutating actions
func (m *Manager) EntitledOnly() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := r.Context().Value(auth.Context).(*auth.Claims)
			if !ok {
				m.logger.Error("Context has no Claims")
				resp.WriteError(w, r, resp.ErrUnauthorized())
				return
			}
			entitled, err := m.IsEntitled(r.Context(), claims.CompanyID)
			if err != nil {
				m.logger.Error("Unable to check entitlement",
					zap.String("CompanyID", claims.CompanyID),
					zap.Error(err),
				)
				resp.WriteError(w, r, resp.ErrUnexpected())
				return
			}
			if !entitled {
				resp.WriteError(w, r, resp.ErrSubscriptionRequired())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
