// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package httpapi

import (
	"net/http"

	"github.com/emiago/sipua"
	"github.com/labstack/echo/v4"
)

type devicesResponse struct {
	Kind     string         `json:"kind"`
	Selected *int           `json:"selected,omitempty"`
	Devices  []sipua.Device `json:"devices"`
}

func paramKind(c echo.Context) (sipua.DeviceKind, error) {
	kind, err := sipua.ParseDeviceKind(c.Param("kind"))
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return kind, nil
}

func (s *Server) listDevices(c echo.Context) error {
	kind, err := paramKind(c)
	if err != nil {
		return err
	}
	devices, err := s.m.Devices().Devices(kind)
	if err != nil {
		return httpError(err)
	}

	resp := devicesResponse{Kind: kind.String(), Devices: devices}
	if idx, ok := s.m.Devices().SelectedDevice(kind); ok {
		resp.Selected = &idx
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) selectDevice(c echo.Context) error {
	kind, err := paramKind(c)
	if err != nil {
		return err
	}
	var req struct {
		Index int `json:"index"`
	}
	if err := bindBody(c, &req); err != nil {
		return err
	}
	if err := s.m.Devices().SelectDevice(kind, req.Index); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
