package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zanzhit/camera_dvr/internal/domain/errs"
	"github.com/zanzhit/camera_dvr/internal/domain/models"
	authhandler "github.com/zanzhit/camera_dvr/internal/http-server/handlers/auth"
	deviceshandler "github.com/zanzhit/camera_dvr/internal/http-server/handlers/devices"
	"github.com/zanzhit/camera_dvr/internal/lib/jwt"
	"github.com/zanzhit/camera_dvr/internal/lib/logger/handlers/slogdiscard"
)

const secret = "test-secret"

type fakeUsers struct{}

func (fakeUsers) Login(_ context.Context, email, password string) (string, error) {
	if email != "op@example.com" || password != "password1" {
		return "", errs.ErrInvalidCredentials
	}

	return jwt.NewToken(models.User{Id: 1, Email: email}, time.Hour, secret)
}

func (fakeUsers) RegisterNewUser(_ context.Context, email, _ string) (int, error) {
	if email == "op@example.com" {
		return 0, errs.ErrUserExists
	}

	return 2, nil
}

type fakeDevices struct{}

func (fakeDevices) Status(deviceID string) (models.DeviceStatus, error) {
	if deviceID != "cam1" {
		return models.DeviceStatus{}, errs.ErrDeviceNotFound
	}

	return models.DeviceStatus{DeviceID: "cam1", Title: "Front door"}, nil
}

func (d fakeDevices) Recordings(_ context.Context, deviceID string) (models.Recordings, error) {
	if _, err := d.Status(deviceID); err != nil {
		return models.Recordings{}, err
	}

	return models.Recordings{
		DeviceID:   deviceID,
		TotalBytes: 10,
		Segments:   []models.Segment{{Name: "2024-01-01-00-00-000", Size: 10, Still: true}},
	}, nil
}

type fakeStore struct {
	mu       sync.Mutex
	states   map[string]string
	listings []models.ListingRequest
	limit    int
}

func (s *fakeStore) State(_ context.Context, deviceID string) (models.DeviceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.states[deviceID]
	if !ok {
		return models.DeviceState{}, errs.ErrDeviceNotFound
	}

	return models.DeviceState{DeviceID: deviceID, Value: v}, nil
}

func (s *fakeStore) SetState(_ context.Context, deviceID, value string) (models.DeviceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[deviceID] = value

	return models.DeviceState{DeviceID: deviceID, Value: value}, nil
}

func (s *fakeStore) ListingRequests(_ context.Context, _ string, limit int) ([]models.ListingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.limit = limit

	return s.listings, nil
}

func newRouter(t *testing.T) (http.Handler, *fakeStore) {
	t.Helper()

	log := slogdiscard.NewDiscardLogger()
	store := &fakeStore{
		states:   make(map[string]string),
		listings: []models.ListingRequest{{ID: 1, DeviceID: "cam1", Reason: "evicted"}},
	}

	h := New(
		log,
		secret,
		authhandler.New(log, fakeUsers{}),
		deviceshandler.New(log, fakeDevices{}, store, store),
	)

	return h, store
}

func token(t *testing.T) string {
	t.Helper()

	tok, err := jwt.NewToken(models.User{Id: 1, Email: "op@example.com"}, time.Hour, secret)
	require.NoError(t, err)

	return tok
}

func do(t *testing.T, h http.Handler, method, target, body string, auth bool) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}

	if auth {
		req.Header.Set("Authorization", "Bearer "+token(t))
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	return rr
}

func TestDevices_RequireToken(t *testing.T) {
	h, _ := newRouter(t)

	rr := do(t, h, http.MethodGet, "/devices/cam1/status", "", false)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/devices/cam1/status", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestDevices_StateRoundTrip(t *testing.T) {
	h, store := newRouter(t)

	rr := do(t, h, http.MethodGet, "/devices/cam1/state", "", true)
	require.Equal(t, http.StatusOK, rr.Code)

	var state models.DeviceState
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &state))
	assert.Equal(t, models.StateOff, state.Value)

	rr = do(t, h, http.MethodPut, "/devices/cam1/state", `{"value":"on"}`, true)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, models.StateOn, store.states["cam1"])

	rr = do(t, h, http.MethodGet, "/devices/cam1/state", "", true)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &state))
	assert.Equal(t, models.StateOn, state.Value)
}

func TestDevices_SetStateRejects(t *testing.T) {
	h, store := newRouter(t)

	tests := []struct {
		name   string
		target string
		body   string
		code   int
	}{
		{name: "unknown value", target: "/devices/cam1/state", body: `{"value":"standby"}`, code: http.StatusBadRequest},
		{name: "missing value", target: "/devices/cam1/state", body: `{}`, code: http.StatusBadRequest},
		{name: "broken json", target: "/devices/cam1/state", body: `{"value":`, code: http.StatusBadRequest},
		{name: "unknown device", target: "/devices/cam9/state", body: `{"value":"on"}`, code: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, h, http.MethodPut, tt.target, tt.body, true)
			assert.Equal(t, tt.code, rr.Code)
		})
	}

	assert.Empty(t, store.states)
}

func TestDevices_StatusAndRecordings(t *testing.T) {
	h, _ := newRouter(t)

	rr := do(t, h, http.MethodGet, "/devices/cam1/status", "", true)
	require.Equal(t, http.StatusOK, rr.Code)

	var status models.DeviceStatus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.Equal(t, "Front door", status.Title)
	assert.False(t, status.Recording)

	rr = do(t, h, http.MethodGet, "/devices/cam1/recordings", "", true)
	require.Equal(t, http.StatusOK, rr.Code)

	var rec models.Recordings
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	require.Len(t, rec.Segments, 1)
	assert.True(t, rec.Segments[0].Still)

	rr = do(t, h, http.MethodGet, "/devices/cam9/recordings", "", true)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDevices_Listings(t *testing.T) {
	h, store := newRouter(t)

	rr := do(t, h, http.MethodGet, "/devices/cam1/listings", "", true)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 20, store.limit)

	var listings []models.ListingRequest
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &listings))
	require.Len(t, listings, 1)
	assert.Equal(t, "evicted", listings[0].Reason)

	rr = do(t, h, http.MethodGet, "/devices/cam1/listings?limit=5", "", true)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 5, store.limit)

	for _, limit := range []string{"0", "-1", "abc", "100000"} {
		rr = do(t, h, http.MethodGet, "/devices/cam1/listings?limit="+limit, "", true)
		assert.Equal(t, http.StatusBadRequest, rr.Code, limit)
	}
}

func TestAuth_Login(t *testing.T) {
	h, _ := newRouter(t)

	rr := do(t, h, http.MethodPost, "/auth/login", `{"email":"op@example.com","password":"password1"}`, false)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	user, err := jwt.ParseToken(resp["token"], secret)
	require.NoError(t, err)
	assert.Equal(t, 1, user.Id)

	rr = do(t, h, http.MethodPost, "/auth/login", `{"email":"op@example.com","password":"nope"}`, false)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(t, h, http.MethodPost, "/auth/login", "", false)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAuth_LoginIsRateLimited(t *testing.T) {
	h, _ := newRouter(t)

	var last int
	for i := 0; i <= loginRequestLimit; i++ {
		rr := do(t, h, http.MethodPost, "/auth/login", `{"email":"op@example.com","password":"nope"}`, false)
		last = rr.Code
	}

	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestAuth_Register(t *testing.T) {
	h, _ := newRouter(t)

	body := `{"email":"new@example.com","password":"password1"}`

	rr := do(t, h, http.MethodPost, "/auth/register", body, false)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(t, h, http.MethodPost, "/auth/register", body, true)
	require.Equal(t, http.StatusCreated, rr.Code)

	var resp map[string]int
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp["id"])

	rr = do(t, h, http.MethodPost, "/auth/register", `{"email":"op@example.com","password":"password1"}`, true)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, h, http.MethodPost, "/auth/register", `{"email":"not-an-email","password":"short"}`, true)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newRouter(t)

	rr := do(t, h, http.MethodGet, "/metrics", "", false)
	assert.Equal(t, http.StatusOK, rr.Code)
}
