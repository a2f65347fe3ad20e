package maintenance

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/minifleet/minifleet/auth"
	"github.com/minifleet/minifleet/company"
	resp "github.com/minifleet/minifleet/response"
	"github.com/minifleet/minifleet/vehicle"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var validate *validator.Validate = validator.New()

// ServiceOptions contains the configuration for Service router
type ServiceOptions struct {
	Auth               *auth.Auth
	CompanyManager     *company.Manager
	VehicleManager     *vehicle.Manager
	MaintenanceManager *Manager
	Logger             *zap.Logger
}

// Service is the maintenance API router
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the maintenance API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.Auth == nil {
		return nil, fmt.Errorf("nil Auth is invalid")
	}
	if option.CompanyManager == nil {
		return nil, fmt.Errorf("nil CompanyManager is invalid")
	}
	if option.VehicleManager == nil {
		return nil, fmt.Errorf("nil VehicleManager is invalid")
	}
	if option.MaintenanceManager == nil {
		return nil, fmt.Errorf("nil MaintenanceManager is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

// CreateTemplateRequest is the model of user request for defining a
// service template
type CreateTemplateRequest struct {
	Name           string `json:"name" validate:"required"`
	IntervalMonths *int   `json:"intervalMonths" validate:"omitempty,min=1"`
	IntervalMiles  *int64 `json:"intervalMiles" validate:"omitempty,min=1"`
}

func (s *Service) createTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	var req CreateTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}
	if req.IntervalMonths == nil && req.IntervalMiles == nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("At least one of intervalMonths or intervalMiles is required"))
		return
	}

	tmpl := &Template{
		CompanyID:      claims.CompanyID,
		Name:           req.Name,
		IntervalMonths: req.IntervalMonths,
		IntervalMiles:  req.IntervalMiles,
	}
	if err := s.MaintenanceManager.CreateTemplate(ctx, tmpl); err != nil {
		s.Logger.Error("Unable to create service template",
			zap.String("CompanyID", claims.CompanyID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to create template"))
		return
	}

	resp.WriteResponse(w, r, tmpl)
}

func (s *Service) listTemplates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	templates, err := s.MaintenanceManager.ListTemplates(ctx, claims.CompanyID)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}

	resp.WriteResponse(w, r, templates)
}

// LogServiceRequest is the model of user request for recording a
// performed service
type LogServiceRequest struct {
	VehicleID   string `json:"vehicleId" validate:"required"`
	TemplateID  string `json:"templateId" validate:"required"`
	ServiceDate string `json:"serviceDate" validate:"required"`
	Odometer    int64  `json:"odometer" validate:"min=0"`
	Notes       string `json:"notes"`
}

func (s *Service) logService(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	logger := s.Logger.With(zap.String("CompanyID", claims.CompanyID))

	var req LogServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}

	serviceDate, err := time.Parse("2006-01-02", req.ServiceDate)
	if err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("serviceDate must be in YYYY-MM-DD format"))
		return
	}

	v, err := s.VehicleManager.GetByID(ctx, req.VehicleID)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	if v == nil || v.CompanyID != claims.CompanyID {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Cannot find vehicle with specific ID"))
		return
	}

	sched, err := s.MaintenanceManager.LogService(ctx, LogServiceOption{
		CompanyID:   claims.CompanyID,
		VehicleID:   req.VehicleID,
		TemplateID:  req.TemplateID,
		ServiceDate: serviceDate,
		Odometer:    req.Odometer,
		Notes:       req.Notes,
	})
	if err != nil {
		logger.Error("Unable to log service",
			zap.String("VehicleID", req.VehicleID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to log service"))
		return
	}

	resp.WriteResponse(w, r, sched)
}

func (s *Service) listSchedules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	schedules, err := s.MaintenanceManager.ListSchedules(ctx, claims.CompanyID)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}

	resp.WriteResponse(w, r, schedules)
}

func (s *Service) listHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)
	vehicleID := chi.URLParam(r, "vehicleId")

	events, err := s.MaintenanceManager.ListServiceHistory(ctx, claims.CompanyID, vehicleID)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}

	resp.WriteResponse(w, r, events)
}

// Router will return the routes under maintenance API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(s.Auth.Middleware())

	r.Get("/templates", s.listTemplates)
	r.Get("/schedules", s.listSchedules)
	r.Get("/history/{vehicleId}", s.listHistory)

	r.Group(func(r chi.Router) {
		r.Use(s.Auth.RequireRole(string(company.RoleOwner), string(company.RoleManager)))
		r.Use(s.CompanyManager.EntitledOnly())
		r.Post("/templates", s.createTemplate)
		r.Post("/services", s.logService)
	})

	return r
}
