package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mbocsi/goxfs/logging"
	"github.com/mbocsi/goxfs/proto"
	"github.com/mbocsi/goxfs/services"
)

type testAPI struct {
	device    *mockDeviceService
	command   *mockCommandService
	discovery *mockDiscoveryService
	handler   http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	api := &testAPI{
		device:    &mockDeviceService{},
		command:   &mockCommandService{},
		discovery: &mockDiscoveryService{},
	}
	container := &services.ServiceContainer{Device: api.device, Command: api.command, Discovery: api.discovery}
	api.handler = NewWebClient(container, logging.Suppressed()).Routes()
	t.Cleanup(func() {
		api.device.AssertExpectations(t)
		api.command.AssertExpectations(t)
		api.discovery.AssertExpectations(t)
	})
	return api
}

func (a *testAPI) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func TestHandleServices(t *testing.T) {
	api := newTestAPI(t)
	api.device.On("ListServices").Return([]services.ServiceInfo{
		{ID: "a1b2c3d4", URI: "ws://atm:5846/xfs4iot/v1.0/CardReader", Connected: true, Interfaces: []string{"cardReader"}},
	}, nil)

	rec := api.do(http.MethodGet, "/api/services", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := decode[struct {
		Services []services.ServiceInfo `json:"services"`
		Count    int                    `json:"count"`
	}](t, rec)
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "a1b2c3d4", body.Services[0].ID)
}

func TestHandleServiceDetail(t *testing.T) {
	api := newTestAPI(t)
	api.device.On("GetService", "a1b2c3d4").Return(&services.ServiceInfo{ID: "a1b2c3d4", URI: "ws://atm:5846/xfs4iot/v1.0/CardReader"}, nil)
	api.device.On("GetService", "missing").Return(nil, services.ServiceError{Code: services.ErrCodeNotFound, Message: "Service not found: missing"})

	rec := api.do(http.MethodGet, "/api/services/a1b2c3d4", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a1b2c3d4", decode[services.ServiceInfo](t, rec).ID)

	rec = api.do(http.MethodGet, "/api/services/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	errBody := decode[map[string]string](t, rec)
	assert.Equal(t, services.ErrCodeNotFound, errBody["code"])
	assert.Contains(t, errBody["message"], "missing")
}

func TestHandleServiceRefreshAndRemove(t *testing.T) {
	api := newTestAPI(t)
	api.device.On("RefreshService", mock.Anything, "a1b2c3d4").Return(&services.ServiceInfo{ID: "a1b2c3d4"}, nil)
	api.device.On("RemoveService", "a1b2c3d4").Return(nil)

	rec := api.do(http.MethodPost, "/api/services/a1b2c3d4/refresh", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(http.MethodDelete, "/api/services/a1b2c3d4", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandleExecute(t *testing.T) {
	api := newTestAPI(t)
	want := services.CommandRequest{
		Name:    "CardReader.ReadRawData",
		Payload: json.RawMessage(`{"track2":true}`),
		Timeout: 1500 * time.Millisecond,
	}
	api.command.On("Execute", mock.Anything, "a1b2c3d4", want).Return(&services.CommandResult{
		ServiceID: "a1b2c3d4",
		RequestID: 3,
		Status:    proto.StatusSuccess,
		Succeeded: true,
		Events:    []proto.Message{},
	}, nil)

	rec := api.do(http.MethodPost, "/api/services/a1b2c3d4/commands/CardReader.ReadRawData?timeout_ms=1500", `{"track2":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[services.CommandResult](t, rec)
	assert.Equal(t, 3, res.RequestID)
	assert.True(t, res.Succeeded)
}

func TestHandleExecute_Errors(t *testing.T) {
	api := newTestAPI(t)
	api.command.On("Execute", mock.Anything, "a1b2c3d4", mock.MatchedBy(func(req services.CommandRequest) bool {
		return req.Name == "CardReader.ReadRawData"
	})).Return(nil, services.ServiceError{Code: services.ErrCodeTimeout, Message: "Command CardReader.ReadRawData failed"})
	api.command.On("Execute", mock.Anything, "a1b2c3d4", mock.MatchedBy(func(req services.CommandRequest) bool {
		return req.Name == "CardReader.Move"
	})).Return(nil, services.ServiceError{Code: services.ErrCodeProtocol, Message: "Command CardReader.Move failed"})

	rec := api.do(http.MethodPost, "/api/services/a1b2c3d4/commands/CardReader.ReadRawData", "")
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)

	rec = api.do(http.MethodPost, "/api/services/a1b2c3d4/commands/CardReader.Move", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = api.do(http.MethodPost, "/api/services/a1b2c3d4/commands/CardReader.Move?timeout_ms=soon", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, services.ErrCodeInvalidInput, decode[map[string]string](t, rec)["code"])
}

func TestHandleCancel(t *testing.T) {
	api := newTestAPI(t)
	api.command.On("Cancel", mock.Anything, "a1b2c3d4", []int{4, 5}).Return(nil)
	api.command.On("Cancel", mock.Anything, "a1b2c3d4", []int(nil)).Return(nil)

	rec := api.do(http.MethodPost, "/api/services/a1b2c3d4/cancel", `{"request_ids":[4,5]}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = api.do(http.MethodPost, "/api/services/a1b2c3d4/cancel", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = api.do(http.MethodPost, "/api/services/a1b2c3d4/cancel", `{"request_ids":"all"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDiscovery(t *testing.T) {
	api := newTestAPI(t)
	api.discovery.On("Rescan", mock.Anything).Return(&services.DiscoveryResult{
		Services: []services.ServiceInfo{{ID: "a1b2c3d4"}},
		Failures: []services.DiscoveryFailure{{URI: "ws://atm:5846/xfs4iot/v1.0/Printer", Error: "connection refused"}},
	}, nil).Once()
	api.discovery.On("Rescan", mock.Anything).Return(nil, services.ServiceError{Code: services.ErrCodeNotFound, Message: "Discovery failed"}).Once()

	rec := api.do(http.MethodPost, "/api/discovery", "")
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[services.DiscoveryResult](t, rec)
	assert.Len(t, result.Services, 1)
	assert.Len(t, result.Failures, 1)

	rec = api.do(http.MethodPost, "/api/discovery", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleError_Unclassified(t *testing.T) {
	api := newTestAPI(t)
	api.device.On("ListServices").Return([]services.ServiceInfo(nil), assert.AnError)

	rec := api.do(http.MethodGet, "/api/services", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, services.ErrCodeInternal, decode[map[string]string](t, rec)["code"])
}

func TestUnknownRoute(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(http.MethodGet, "/api/nothing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
