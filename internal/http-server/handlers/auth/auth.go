package authhandler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/zanzhit/camera_dvr/internal/domain/errs"
	"github.com/zanzhit/camera_dvr/internal/http-server/handlers"
	authmiddleware "github.com/zanzhit/camera_dvr/internal/http-server/middleware/auth"
	"github.com/zanzhit/camera_dvr/internal/lib/api/response"
	"github.com/zanzhit/camera_dvr/internal/lib/sl"
)

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type AuthHandler struct {
	log  *slog.Logger
	user User
}

type User interface {
	Login(ctx context.Context, email, password string) (string, error)
	RegisterNewUser(ctx context.Context, email, password string) (int, error)
}

func New(
	log *slog.Logger,
	user User,
) *AuthHandler {
	return &AuthHandler{
		log:  log,
		user: user,
	}
}

func (h *AuthHandler) RegisterNewUser(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.RegisterNewUser"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	if actor, ok := authmiddleware.UserFromContext(r.Context()); ok {
		log = log.With(slog.Int("operator_id", actor.Id))
	}

	var req RegisterRequest
	if !decode(w, r, log, &req) {
		return
	}

	id, err := h.user.RegisterNewUser(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, errs.ErrUserExists) {
			handlers.Error(w, r, http.StatusConflict, response.Error("user with this email already exists", ""))

			return
		}

		log.Error("failed to register new user", sl.Err(err))

		handlers.Error(w, r, http.StatusInternalServerError, response.Error("failed to register new user", middleware.GetReqID(r.Context())))

		return
	}

	log.Info("user registered", slog.Int("id", id))

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, map[string]int{"id": id})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.Login"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req LoginRequest
	if !decode(w, r, log, &req) {
		return
	}

	token, err := h.user.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, errs.ErrInvalidCredentials) {
			handlers.Error(w, r, http.StatusUnauthorized, response.Error("invalid credentials", ""))

			return
		}

		log.Error("failed to login", sl.Err(err))

		handlers.Error(w, r, http.StatusInternalServerError, response.Error("failed to login", middleware.GetReqID(r.Context())))

		return
	}

	render.JSON(w, r, map[string]string{"token": token})
}

// decode reads and validates a JSON body, writing the error response itself
// when it fails.
func decode(w http.ResponseWriter, r *http.Request, log *slog.Logger, req any) bool {
	err := render.DecodeJSON(r.Body, req)
	if err != nil {
		if errors.Is(err, io.EOF) {
			log.Error("request body is empty")

			handlers.Error(w, r, http.StatusBadRequest, response.Error("empty request", ""))

			return false
		}

		log.Error("failed to decode request body", sl.Err(err))

		handlers.Error(w, r, http.StatusBadRequest, response.Error("failed to decode request", middleware.GetReqID(r.Context())))

		return false
	}

	if err := validator.New().Struct(req); err != nil {
		var validateErr validator.ValidationErrors
		if !errors.As(err, &validateErr) {
			handlers.Error(w, r, http.StatusBadRequest, response.Error("invalid request", ""))

			return false
		}

		log.Error("invalid request", sl.Err(err))

		handlers.Error(w, r, http.StatusBadRequest, response.ValidationError(validateErr))

		return false
	}

	return true
}
