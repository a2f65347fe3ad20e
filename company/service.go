package company

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/minifleet/minifleet/auth"
	resp "github.com/minifleet/minifleet/response"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var validate *validator.Validate = validator.New()

// Options contains the configuration for Service router
type Options struct {
	Auth           *auth.Auth
	CompanyManager *Manager
	Logger         *zap.Logger
}

// Service is the company/login API router
type Service struct {
	Options
}

// NewService will create an instance of the company API router
func NewService(option Options) (*Service, error) {
	if option.Auth == nil {
		return nil, fmt.Errorf("nil Auth is invalid")
	}
	if option.CompanyManager == nil {
		return nil, fmt.Errorf("nil CompanyManager is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		Options: option,
	}, nil
}

// SignupRequest is the model of user request for creating a company
type SignupRequest struct {
	CompanyName string `json:"companyName" validate:"required"`
	Email       string `json:"email" validate:"required,email"`
	Name        string `json:"name" validate:"required"`
}

func (s *Service) signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}

	logger := s.Logger.With(zap.String("Email", req.Email))

	existing, err := s.CompanyManager.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		logger.Error("Unable to look up user",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	if existing != nil {
		resp.WriteError(w, r, resp.ErrConflict().AddMessages("A user with this email already exists"))
		return
	}

	comp, err := s.CompanyManager.NewCompany(r.Context(), NewCompanyOption{
		CompanyName: req.CompanyName,
		OwnerEmail:  req.Email,
		OwnerName:   req.Name,
	})
	if err != nil {
		logger.Error("Unable to create company",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to create company"))
		return
	}

	resp.WriteResponse(w, r, comp)
}

// LoginRequest is the model of user request for a login token
type LoginRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (s *Service) requestLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}

	logger := s.Logger.With(zap.String("Email", req.Email))

	user, err := s.CompanyManager.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		logger.Error("Unable to look up user",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	if user == nil {
		// don't leak which emails exist
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := s.Auth.Request(r.Context(), req.Email, req.Email); err != nil {
		logger.Error("Unable to send login token",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	email := chi.URLParam(r, "uid")
	token := chi.URLParam(r, "token")

	logger := s.Logger.With(zap.String("Email", email))

	valid, err := s.Auth.Verify(ctx, email, token)
	if err != nil {
		logger.Error("Unable to verify login token",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	if !valid {
		resp.WriteError(w, r, resp.ErrUnauthorized())
		return
	}

	user, err := s.CompanyManager.GetUserByEmail(ctx, email)
	if err != nil {
		logger.Error("Unable to look up user",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	if user == nil {
		resp.WriteError(w, r, resp.ErrUnauthorized())
		return
	}

	jwtToken, err := s.Auth.CreateTokenFromClaims(auth.Claims{
		UserID:    user.ID,
		Email:     user.Email,
		CompanyID: user.CompanyID,
		Role:      string(user.Role),
	})
	if err != nil {
		logger.Error("Unable to generate token",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}

	resp.WriteResponse(w, r, struct {
		Token string `json:"token"`
	}{
		Token: jwtToken,
	})
}

func (s *Service) getCompany(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	comp, err := s.CompanyManager.GetByID(ctx, claims.CompanyID)
	if err != nil {
		s.Logger.Error("Unable to query company",
			zap.String("CompanyID", claims.CompanyID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	if comp == nil {
		resp.WriteError(w, r, resp.ErrNotFound())
		return
	}

	resp.WriteResponse(w, r, comp)
}

// Router will return the routes under company API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Post("/signup", s.signup)
	r.Post("/login", s.requestLogin)
	r.Get("/login/{uid}/{token}", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.Auth.Middleware())
		r.Get("/me", s.getCompany)
	})

	return r
}
