package router

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	authhandler "github.com/zanzhit/camera_dvr/internal/http-server/handlers/auth"
	deviceshandler "github.com/zanzhit/camera_dvr/internal/http-server/handlers/devices"
	authmiddleware "github.com/zanzhit/camera_dvr/internal/http-server/middleware/auth"
	"github.com/zanzhit/camera_dvr/internal/http-server/middleware/logger"
)

const (
	loginRequestLimit  = 10
	loginRequestWindow = time.Minute
)

func New(
	log *slog.Logger,
	secret string,
	authHandler *authhandler.AuthHandler,
	devicesHandler *deviceshandler.DevicesHandler,
) http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(logger.New(log))
	router.Use(middleware.Recoverer)
	router.Use(middleware.URLFormat)

	router.Handle("/metrics", promhttp.Handler())

	router.Route("/auth", func(r chi.Router) {
		r.With(httprate.LimitByIP(loginRequestLimit, loginRequestWindow)).Post("/login", authHandler.Login)

		r.Group(func(r chi.Router) {
			r.Use(authmiddleware.JWTAuth(secret))
			r.Post("/register", authHandler.RegisterNewUser)
		})
	})

	router.Route("/devices/{device_id}", func(r chi.Router) {
		r.Use(authmiddleware.JWTAuth(secret))

		r.Get("/state", devicesHandler.State)
		r.Put("/state", devicesHandler.SetState)
		r.Get("/status", devicesHandler.Status)
		r.Get("/recordings", devicesHandler.Recordings)
		r.Get("/listings", devicesHandler.Listings)
	})

	return router
}
