package vehicle

import (
	"encoding/json"
	"fmt"
	"net/http"

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
	Auth           *auth.Auth
	CompanyManager *company.Manager
	VehicleManager *Manager
	Logger         *zap.Logger
}

// Service is the vehicle API router
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the vehicle API router
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
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

// CreateVehicleRequest is the model of user request for registering a vehicle
type CreateVehicleRequest struct {
	Make            string `json:"make" validate:"required"`
	Model           string `json:"model" validate:"required"`
	Year            int    `json:"year" validate:"required,min=1900"`
	LicensePlate    string `json:"licensePlate"`
	CurrentOdometer int64  `json:"currentOdometer" validate:"min=0"`
}

func (s *Service) createVehicle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	var req CreateVehicleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}

	v := &Vehicle{
		CompanyID:       claims.CompanyID,
		Make:            req.Make,
		Model:           req.Model,
		Year:            req.Year,
		LicensePlate:    req.LicensePlate,
		CurrentOdometer: req.CurrentOdometer,
	}
	if err := s.VehicleManager.Create(ctx, v); err != nil {
		s.Logger.Error("Unable to create vehicle",
			zap.String("CompanyID", claims.CompanyID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to create vehicle"))
		return
	}

	resp.WriteResponse(w, r, v)
}

func (s *Service) listVehicles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	vehicles, err := s.VehicleManager.List(ctx, claims.CompanyID)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}

	resp.WriteResponse(w, r, vehicles)
}

func (s *Service) getVehicle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)
	vehicleID := chi.URLParam(r, "id")

	v, err := s.VehicleManager.GetByID(ctx, vehicleID)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	// tenant scoping: never leak other companies' vehicles
	if v == nil || v.CompanyID != claims.CompanyID {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Cannot find vehicle with specific ID"))
		return
	}

	resp.WriteResponse(w, r, v)
}

// Router will return the routes under vehicle API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(s.Auth.Middleware())

	r.Get("/", s.listVehicles)
	r.Get("/{id}", s.getVehicle)

	r.Group(func(r chi.Router) {
		r.Use(s.Auth.RequireRole(string(company.RoleOwner), string(company.RoleManager)))
		r.Use(s.CompanyManager.EntitledOnly())
		r.Post("/", s.createVehicle)
	})

	return r
}
