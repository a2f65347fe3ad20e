package reminder

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/minifleet/minifleet/auth"
	"github.com/minifleet/minifleet/company"
	resp "github.com/minifleet/minifleet/response"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var validate *validator.Validate = validator.New()

// ServiceOptions contains the configuration for Service router
type ServiceOptions struct {
	Auth            *auth.Auth
	CompanyManager  *company.Manager
	ReminderManager *Manager
	Scanner         *Scanner
	Dispatcher      *Dispatcher
	Logger          *zap.Logger
}

// Service is the reminder API router
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the reminder API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.Auth == nil {
		return nil, fmt.Errorf("nil Auth is invalid")
	}
	if option.CompanyManager == nil {
		return nil, fmt.Errorf("nil CompanyManager is invalid")
	}
	if option.ReminderManager == nil {
		return nil, fmt.Errorf("nil ReminderManager is invalid")
	}
	if option.Scanner == nil {
		return nil, fmt.Errorf("nil Scanner is invalid")
	}
	if option.Dispatcher == nil {
		return nil, fmt.Errorf("nil Dispatcher is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

// RunRequest is the model of user request for triggering a reminder
// pass on demand
type RunRequest struct {
	Action string `json:"action" validate:"required,oneof=scan process"`
}

// runPass triggers a scan or dispatch pass on demand. Individual
// delivery failures are reported in the summary, not as an HTTP error.
func (s *Service) runPass(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}

	switch req.Action {
	case "scan":
		summary, err := s.Scanner.Scan(ctx, time.Now())
		if err != nil {
			s.Logger.Error("Reminder scan failed",
				zap.Error(err),
			)
			resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to scan for reminders"))
			return
		}
		resp.WriteResponse(w, r, summary)
	case "process":
		summary, err := s.Dispatcher.Dispatch(ctx)
		if err != nil {
			s.Logger.Error("Reminder dispatch failed",
				zap.Error(err),
			)
			resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to process reminders"))
			return
		}
		resp.WriteResponse(w, r, summary)
	}
}

func (s *Service) listReminders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	reminders, err := s.ReminderManager.ListByCompany(ctx, claims.CompanyID)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}

	resp.WriteResponse(w, r, reminders)
}

// Router will return the routes under reminder API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(s.Auth.Middleware())

	r.Get("/", s.listReminders)

	r.Group(func(r chi.Router) {
		r.Use(s.Auth.RequireRole(string(company.RoleOwner), string(company.RoleManager)))
		r.Use(s.CompanyManager.EntitledOnly())
		r.Post("/scan", s.runPass)
	})

	return r
}
