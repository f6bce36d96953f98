// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package httpapi

import (
	"net/http"

	"github.com/emiago/sipua"
	"github.com/labstack/echo/v4"
)

type accountRequest struct {
	SipServer     string `json:"sip_server"`
	Extension     string `json:"extension"`
	Password      string `json:"password"`
	AuthID        string `json:"auth_id"`
	DisplayName   string `json:"display_name"`
	Transport     string `json:"transport"`
	ExpireSeconds *int   `json:"expire_seconds"`
	SecureMedia   int    `json:"secure_media"`
	UserAgent     string `json:"user_agent"`
}

func (r accountRequest) config() (sipua.AccountConfig, error) {
	conf := sipua.DefaultAccountConfig()
	conf.SipServer = r.SipServer
	conf.Extension = r.Extension
	conf.Password = r.Password
	conf.AuthID = r.AuthID
	conf.DisplayName = r.DisplayName
	conf.UserAgent = r.UserAgent
	conf.SecureMedia = sipua.SecureMedia(r.SecureMedia)
	if r.ExpireSeconds != nil {
		conf.ExpireSeconds = *r.ExpireSeconds
	}
	if r.Transport != "" {
		t, err := sipua.ParseTransport(r.Transport)
		if err != nil {
			return conf, err
		}
		conf.Transport = t
	}
	return conf, nil
}

// accountResponse is account snapshot without credentials
type accountResponse struct {
	ID            sipua.AccountID `json:"id"`
	AOR           string          `json:"aor"`
	DisplayName   string          `json:"display_name"`
	Transport     string          `json:"transport"`
	ExpireSeconds int             `json:"expire_seconds"`
	SecureMedia   string          `json:"secure_media"`
	RegState      string          `json:"reg_state"`
	LastResponse  string          `json:"last_response,omitempty"`
}

func newAccountResponse(a sipua.Account) accountResponse {
	return accountResponse{
		ID:            a.ID,
		AOR:           a.Config.AOR(),
		DisplayName:   a.Config.DisplayName,
		Transport:     a.Config.Transport.String(),
		ExpireSeconds: a.Config.ExpireSeconds,
		SecureMedia:   a.Config.SecureMedia.String(),
		RegState:      a.RegState.String(),
		LastResponse:  a.LastResponse,
	}
}

func (s *Server) listAccounts(c echo.Context) error {
	accounts := s.m.Accounts()
	resp := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		resp = append(resp, newAccountResponse(a))
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) addAccount(c echo.Context) error {
	var req accountRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	conf, err := req.config()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	id, err := s.m.AddAccount(conf)
	if err != nil {
		return httpError(err)
	}
	a, err := s.m.Account(id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, newAccountResponse(a))
}

func (s *Server) getAccount(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	a, err := s.m.Account(sipua.AccountID(id))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, newAccountResponse(a))
}

func (s *Server) deleteAccount(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := s.m.DeleteAccount(sipua.AccountID(id)); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) registerAccount(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req struct {
		ExpireSeconds int `json:"expire_seconds"`
	}
	if err := bindBody(c, &req); err != nil {
		return err
	}
	if err := s.m.RegisterAccount(sipua.AccountID(id), req.ExpireSeconds); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) unregisterAccount(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := s.m.UnregisterAccount(sipua.AccountID(id)); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusAccepted)
}
