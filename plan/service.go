package plan

import (
	"fmt"
	"net/http"

	resp "github.com/minifleet/minifleet/response"

	"github.com/go-chi/chi"
	"go.uber.org/zap"
)

// ServiceOptions contains the configuration for Service router
type ServiceOptions struct {
	PlanManager *Manager
	Logger      *zap.Logger
}

// Service is the plan API router
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the plan API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.PlanManager == nil {
		return nil, fmt.Errorf("nil PlanManager is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

func (s *Service) listPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.PlanManager.List(r.Context())
	if err != nil {
		s.Logger.Error("Unable to list plans",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	resp.WriteResponse(w, r, plans)
}

// Router will return the routes under plan API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/", s.listPlans)

	return r
}
