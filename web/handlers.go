package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mbocsi/goxfs/services"
)

const maxBodySize = 1 << 20

func (w *WebClient) HandleServices(wr http.ResponseWriter, r *http.Request) {
	list, err := w.services.Device.ListServices()
	if err != nil {
		w.handleError(wr, err)
		return
	}

	writeJSON(wr, http.StatusOK, map[string]any{
		"services": list,
		"count":    len(list),
	})
}

func (w *WebClient) HandleServiceDetail(wr http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	svc, err := w.services.Device.GetService(id)
	if err != nil {
		w.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, svc)
}

func (w *WebClient) HandleServiceRefresh(wr http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	svc, err := w.services.Device.RefreshService(r.Context(), id)
	if err != nil {
		w.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, svc)
}

func (w *WebClient) HandleServiceRemove(wr http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := w.services.Device.RemoveService(id); err != nil {
		w.handleError(wr, err)
		return
	}
	wr.WriteHeader(http.StatusNoContent)
}

// HandleExecute runs the command named in the path. The request body, if
// any, is the command payload; timeout_ms overrides the default timeout.
func (w *WebClient) HandleExecute(wr http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	req := services.CommandRequest{Name: chi.URLParam(r, "name")}

	if raw := r.URL.Query().Get("timeout_ms"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms < 0 {
			w.handleError(wr, services.ServiceError{
				Code:    services.ErrCodeInvalidInput,
				Message: "timeout_ms must be a non-negative integer",
			})
			return
		}
		req.Timeout = time.Duration(ms) * time.Millisecond
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		w.handleError(wr, services.ServiceError{Code: services.ErrCodeInvalidInput, Message: "Unreadable request body", Cause: err})
		return
	}
	if len(body) > 0 {
		req.Payload = json.RawMessage(body)
	}

	res, err := w.services.Command.Execute(r.Context(), id, req)
	if err != nil {
		w.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, res)
}

func (w *WebClient) HandleCancel(wr http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		RequestIDs []int `json:"request_ids"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			w.handleError(wr, services.ServiceError{Code: services.ErrCodeInvalidInput, Message: "Invalid cancel request", Cause: err})
			return
		}
	}

	if err := w.services.Command.Cancel(r.Context(), id, req.RequestIDs...); err != nil {
		w.handleError(wr, err)
		return
	}
	wr.WriteHeader(http.StatusAccepted)
}

func (w *WebClient) HandleDiscovery(wr http.ResponseWriter, r *http.Request) {
	result, err := w.services.Discovery.Rescan(r.Context())
	if err != nil {
		w.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, result)
}

func writeJSON(wr http.ResponseWriter, status int, v any) {
	wr.Header().Set("Content-Type", "application/json")
	wr.WriteHeader(status)
	json.NewEncoder(wr).Encode(v)
}

// handleError handles service errors with proper HTTP status codes
func (w *WebClient) handleError(wr http.ResponseWriter, err error) {
	var serviceErr services.ServiceError
	if !errors.As(err, &serviceErr) {
		w.log.Error("Service error", "error", err)
		writeJSON(wr, http.StatusInternalServerError, services.ServiceError{
			Code:    services.ErrCodeInternal,
			Message: "Internal server error",
		})
		return
	}

	status := http.StatusInternalServerError
	switch serviceErr.Code {
	case services.ErrCodeNotFound:
		status = http.StatusNotFound
	case services.ErrCodeInvalidInput:
		status = http.StatusBadRequest
	case services.ErrCodeTimeout:
		status = http.StatusGatewayTimeout
	case services.ErrCodeProtocol:
		status = http.StatusBadGateway
	case services.ErrCodeUnavailable:
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		w.log.Error("Service error", "code", serviceErr.Code, "error", err)
	}

	writeJSON(wr, status, map[string]string{
		"code":    serviceErr.Code,
		"message": serviceErr.Error(),
	})
}
