// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/emiago/sipua"
	"github.com/labstack/echo/v4"
)

type callResponse struct {
	ID         sipua.CallID    `json:"id"`
	AccountID  sipua.AccountID `json:"account_id"`
	Direction  string          `json:"direction"`
	State      string          `json:"state"`
	Hold       string          `json:"hold"`
	Remote     string          `json:"remote"`
	From       string          `json:"from,omitempty"`
	To         string          `json:"to,omitempty"`
	WithVideo  bool            `json:"with_video"`
	MicMuted   bool            `json:"mic_muted"`
	CamMuted   bool            `json:"cam_muted"`
	Active     bool            `json:"active"`
	Conference bool            `json:"conference"`
	Recording  sipua.PlayerID  `json:"recording,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

func newCallResponse(cl sipua.Call) callResponse {
	return callResponse{
		ID:         cl.ID,
		AccountID:  cl.AccountID,
		Direction:  cl.Direction.String(),
		State:      cl.State.String(),
		Hold:       cl.Hold.String(),
		Remote:     cl.Remote,
		From:       cl.From,
		To:         cl.To,
		WithVideo:  cl.WithVideo,
		MicMuted:   cl.MicMuted,
		CamMuted:   cl.CamMuted,
		Active:     cl.Active,
		Conference: cl.Conference,
		Recording:  cl.Recording,
		CreatedAt:  cl.CreatedAt,
	}
}

func (s *Server) listCalls(c echo.Context) error {
	calls := s.m.Calls()
	resp := make([]callResponse, 0, len(calls))
	for _, cl := range calls {
		resp = append(resp, newCallResponse(cl))
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) getCall(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	cl, err := s.m.Call(sipua.CallID(id))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, newCallResponse(cl))
}

func (s *Server) invite(c echo.Context) error {
	var req struct {
		AccountID sipua.AccountID   `json:"account_id"`
		Extension string            `json:"extension"`
		WithVideo bool              `json:"with_video"`
		Headers   map[string]string `json:"headers"`
	}
	if err := bindBody(c, &req); err != nil {
		return err
	}

	id, err := s.m.Invite(sipua.Destination{
		AccountID: req.AccountID,
		Extension: req.Extension,
		WithVideo: req.WithVideo,
		Headers:   req.Headers,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]sipua.CallID{"id": id})
}

// callCommand runs command on call of path id and responds 204
func (s *Server) callCommand(c echo.Context, f func(id sipua.CallID) error) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := f(sipua.CallID(id)); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) accept(c echo.Context) error {
	var req struct {
		WithVideo bool `json:"with_video"`
	}
	if err := bindBody(c, &req); err != nil {
		return err
	}
	return s.callCommand(c, func(id sipua.CallID) error {
		return s.m.Accept(id, req.WithVideo)
	})
}

func (s *Server) reject(c echo.Context) error {
	var req struct {
		StatusCode int `json:"status_code"`
	}
	if err := bindBody(c, &req); err != nil {
		return err
	}
	return s.callCommand(c, func(id sipua.CallID) error {
		return s.m.Reject(id, req.StatusCode)
	})
}

func (s *Server) bye(c echo.Context) error {
	return s.callCommand(c, s.m.Bye)
}

func (s *Server) hold(c echo.Context) error {
	return s.callCommand(c, s.m.Hold)
}

func (s *Server) switchTo(c echo.Context) error {
	return s.callCommand(c, s.m.SwitchToCall)
}

func (s *Server) sendDtmf(c echo.Context) error {
	var req struct {
		Tones      string `json:"tones"`
		DurationMs int    `json:"duration_ms"`
		GapMs      int    `json:"gap_ms"`
		Method     string `json:"method"`
	}
	if err := bindBody(c, &req); err != nil {
		return err
	}

	var method sipua.DtmfMethod
	switch strings.ToUpper(req.Method) {
	case "", "RTP":
		method = sipua.DtmfRTP
	case "INFO":
		method = sipua.DtmfInfo
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown dtmf method "+req.Method)
	}
	return s.callCommand(c, func(id sipua.CallID) error {
		return s.m.SendDtmf(id, req.Tones, req.DurationMs, req.GapMs, method)
	})
}

// transfer is blind with target and attended with to_call_id
func (s *Server) transfer(c echo.Context) error {
	var req struct {
		Target   string       `json:"target"`
		ToCallID sipua.CallID `json:"to_call_id"`
	}
	if err := bindBody(c, &req); err != nil {
		return err
	}
	if req.ToCallID != 0 {
		return s.callCommand(c, func(id sipua.CallID) error {
			return s.m.TransferAttended(id, req.ToCallID)
		})
	}
	return s.callCommand(c, func(id sipua.CallID) error {
		return s.m.TransferBlind(id, req.Target)
	})
}

func (s *Server) mute(c echo.Context) error {
	var req struct {
		Kind string `json:"kind"`
		Mute bool   `json:"mute"`
	}
	if err := bindBody(c, &req); err != nil {
		return err
	}
	switch req.Kind {
	case "", "mic":
		return s.callCommand(c, func(id sipua.CallID) error {
			return s.m.MuteMic(id, req.Mute)
		})
	case "cam":
		return s.callCommand(c, func(id sipua.CallID) error {
			return s.m.MuteCam(id, req.Mute)
		})
	}
	return echo.NewHTTPError(http.StatusBadRequest, "unknown mute kind "+req.Kind)
}

func (s *Server) conference(c echo.Context) error {
	if err := s.m.MakeConference(); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) playFile(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req struct {
		Path string `json:"path"`
		Loop bool   `json:"loop"`
	}
	if err := bindBody(c, &req); err != nil {
		return err
	}
	pid, err := s.m.PlayFile(sipua.CallID(id), req.Path, req.Loop)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]sipua.PlayerID{"player_id": pid})
}

func (s *Server) stopPlayFile(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := s.m.StopPlayFile(sipua.PlayerID(id)); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) recordFile(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req struct {
		Path string `json:"path"`
	}
	if err := bindBody(c, &req); err != nil {
		return err
	}
	pid, err := s.m.RecordFile(sipua.CallID(id), req.Path)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]sipua.PlayerID{"player_id": pid})
}

func (s *Server) stopRecordFile(c echo.Context) error {
	return s.callCommand(c, s.m.StopRecordFile)
}
