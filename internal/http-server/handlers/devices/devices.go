package deviceshandler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/zanzhit/camera_dvr/internal/domain/errs"
	"github.com/zanzhit/camera_dvr/internal/domain/models"
	"github.com/zanzhit/camera_dvr/internal/http-server/handlers"
	"github.com/zanzhit/camera_dvr/internal/lib/api/response"
	"github.com/zanzhit/camera_dvr/internal/lib/sl"
)

const (
	defaultListingLimit = 20
	maxListingLimit     = 500
)

type DevicesHandler struct {
	log      *slog.Logger
	devices  Devices
	states   StateStore
	listings ListingProvider
}

type Devices interface {
	Status(deviceID string) (models.DeviceStatus, error)
	Recordings(ctx context.Context, deviceID string) (models.Recordings, error)
}

type StateStore interface {
	State(ctx context.Context, deviceID string) (models.DeviceState, error)
	SetState(ctx context.Context, deviceID, value string) (models.DeviceState, error)
}

type ListingProvider interface {
	ListingRequests(ctx context.Context, deviceID string, limit int) ([]models.ListingRequest, error)
}

func New(log *slog.Logger, devices Devices, states StateStore, listings ListingProvider) *DevicesHandler {
	return &DevicesHandler{
		log:      log,
		devices:  devices,
		states:   states,
		listings: listings,
	}
}

func (h *DevicesHandler) State(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.devices.State"

	deviceID := chi.URLParam(r, "device_id")

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("device_id", deviceID),
	)

	if !h.known(w, r, log, deviceID) {
		return
	}

	state, err := h.states.State(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, errs.ErrDeviceNotFound) {
			// A device nobody switched on yet is off.
			render.JSON(w, r, models.DeviceState{DeviceID: deviceID, Value: models.StateOff})

			return
		}

		log.Error("failed to get device state", sl.Err(err))

		handlers.Error(w, r, http.StatusInternalServerError, response.Error("failed to get device state", middleware.GetReqID(r.Context())))

		return
	}

	render.JSON(w, r, state)
}

func (h *DevicesHandler) SetState(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.devices.SetState"

	deviceID := chi.URLParam(r, "device_id")

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("device_id", deviceID),
	)

	if !h.known(w, r, log, deviceID) {
		return
	}

	var req models.SetDeviceState
	err := render.DecodeJSON(r.Body, &req)
	if err != nil {
		if errors.Is(err, io.EOF) {
			log.Error("request body is empty")

			handlers.Error(w, r, http.StatusBadRequest, response.Error("empty request", ""))

			return
		}

		log.Error("failed to decode request body", sl.Err(err))

		handlers.Error(w, r, http.StatusBadRequest, response.Error("failed to decode request", middleware.GetReqID(r.Context())))

		return
	}

	log.Info("request body decoded", slog.Any("request", req))

	if err := validator.New().Struct(req); err != nil {
		validateErr := err.(validator.ValidationErrors)

		log.Error("invalid request", sl.Err(err))

		handlers.Error(w, r, http.StatusBadRequest, response.ValidationError(validateErr))

		return
	}

	state, err := h.states.SetState(r.Context(), deviceID, req.Value)
	if err != nil {
		log.Error("failed to set device state", sl.Err(err))

		handlers.Error(w, r, http.StatusInternalServerError, response.Error("failed to set device state", middleware.GetReqID(r.Context())))

		return
	}

	log.Info("device state changed", slog.String("value", state.Value))

	render.JSON(w, r, state)
}

func (h *DevicesHandler) Status(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.devices.Status"

	deviceID := chi.URLParam(r, "device_id")

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("device_id", deviceID),
	)

	status, err := h.devices.Status(deviceID)
	if err != nil {
		h.lookupError(w, r, log, err)

		return
	}

	render.JSON(w, r, status)
}

func (h *DevicesHandler) Recordings(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.devices.Recordings"

	deviceID := chi.URLParam(r, "device_id")

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("device_id", deviceID),
	)

	rec, err := h.devices.Recordings(r.Context(), deviceID)
	if err != nil {
		h.lookupError(w, r, log, err)

		return
	}

	render.JSON(w, r, rec)
}

func (h *DevicesHandler) Listings(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.devices.Listings"

	deviceID := chi.URLParam(r, "device_id")

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("device_id", deviceID),
	)

	if !h.known(w, r, log, deviceID) {
		return
	}

	limit := defaultListingLimit

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		var err error
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit <= 0 || limit > maxListingLimit {
			log.Error("invalid limit parameter", slog.String("limit", limitStr))

			handlers.Error(w, r, http.StatusBadRequest, response.Error("invalid limit parameter", ""))

			return
		}
	}

	requests, err := h.listings.ListingRequests(r.Context(), deviceID, limit)
	if err != nil {
		log.Error("failed to get listing requests", sl.Err(err))

		handlers.Error(w, r, http.StatusInternalServerError, response.Error("failed to get listing requests", middleware.GetReqID(r.Context())))

		return
	}

	render.JSON(w, r, requests)
}

// known writes a 404 and returns false for devices missing from the
// configuration.
func (h *DevicesHandler) known(w http.ResponseWriter, r *http.Request, log *slog.Logger, deviceID string) bool {
	if _, err := h.devices.Status(deviceID); err != nil {
		h.lookupError(w, r, log, err)

		return false
	}

	return true
}

func (h *DevicesHandler) lookupError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	if errors.Is(err, errs.ErrDeviceNotFound) {
		log.Warn("device not found")

		handlers.Error(w, r, http.StatusNotFound, response.Error("device not found", ""))

		return
	}

	log.Error("failed to get device", sl.Err(err))

	handlers.Error(w, r, http.StatusInternalServerError, response.Error("failed to get device", middleware.GetReqID(r.Context())))
}
