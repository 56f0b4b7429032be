package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jake-scott/smartthings-appliances/internal/pkg/dispatch"
	"github.com/jake-scott/smartthings-appliances/internal/pkg/logging"
	"github.com/jake-scott/smartthings-appliances/internal/pkg/registry"
)

/*
 *   The locally addressable surface: the hub reads device state and
 *   submits commands through this API.
 */

type DevicesHandler struct {
	reg        *registry.Registry
	dispatcher *dispatch.Dispatcher
}

func NewDevicesHandler(reg *registry.Registry, dispatcher *dispatch.Dispatcher) DevicesHandler {
	return DevicesHandler{
		reg:        reg,
		dispatcher: dispatcher,
	}
}

type deviceView struct {
	ID         string                 `json:"id"`
	Alias      string                 `json:"alias"`
	DeviceType string                 `json:"deviceType"`
	Primary    bool                   `json:"primary"`
	Attributes map[string]interface{} `json:"attributes"`
}

type commandRequest struct {
	Attribute string      `json:"attribute"`
	Value     interface{} `json:"value"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *DevicesHandler) sendJSONResponse(w http.ResponseWriter, r *http.Request, status int, d interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	if err := enc.Encode(d); err != nil {
		logging.Logger(r.Context()).WithError(err).Error("sending json response")
	}
}

func (h *DevicesHandler) viewOf(handle *registry.DeviceHandle) deviceView {
	return deviceView{
		ID:         handle.ID(),
		Alias:      handle.Alias(),
		DeviceType: handle.Type().Name(),
		Primary:    handle.IsPrimary(),
		Attributes: handle.Snapshot(),
	}
}

// GET /devices
func (h *DevicesHandler) List(w http.ResponseWriter, r *http.Request) {
	handles := h.reg.Handles()

	views := make([]deviceView, 0, len(handles))
	for _, handle := range handles {
		views = append(views, h.viewOf(handle))
	}

	h.sendJSONResponse(w, r, http.StatusOK, views)
}

// GET /devices/{id}
func (h *DevicesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	handle, ok := h.reg.Handle(id)
	if !ok {
		h.sendJSONResponse(w, r, http.StatusNotFound, errorResponse{Error: "no such device"})
		return
	}

	h.sendJSONResponse(w, r, http.StatusOK, h.viewOf(handle))
}

// POST /devices/{id}/commands
func (h *DevicesHandler) Command(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	req := commandRequest{}
	if err := decodeJSONBody(w, r, &req); err != nil {
		h.sendJSONResponse(w, r, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if req.Attribute == "" {
		h.sendJSONResponse(w, r, http.StatusBadRequest, errorResponse{Error: "attribute is required"})
		return
	}

	if err := h.dispatcher.Send(id, req.Attribute, req.Value); err != nil {
		logging.Logger(r.Context()).WithError(err).Errorf("command for device %s", id)
		h.sendJSONResponse(w, r, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	// 100kb max body
	reader := http.MaxBytesReader(w, r.Body, 100*1024)
	dec := json.NewDecoder(reader)

	if err := dec.Decode(&dst); err != nil {
		return err
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("request body must only contain a single JSON object")
	}

	return nil
}
