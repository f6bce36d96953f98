// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipengine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/emiago/sipua"
)

type RegisterResponseError struct {
	RegisterReq *sip.Request
	RegisterRes *sip.Response

	Msg string
}

func (e *RegisterResponseError) StatusCode() int {
	return int(e.RegisterRes.StatusCode)
}

func (e *RegisterResponseError) Error() string {
	return e.Msg
}

// registration keeps account binding on registrar and refreshes it
type registration struct {
	id     sipua.AccountID
	acc    sipua.AccountConfig
	origin *sip.Request
	client *sipgo.Client
	log    *slog.Logger

	expiry time.Duration
	cancel context.CancelFunc
	done   chan struct{}
}

func newRegistration(client *sipgo.Client, id sipua.AccountID, acc sipua.AccountConfig, recipient sip.Uri, contact sip.ContactHeader, expiry time.Duration, log *slog.Logger) *registration {
	req := sip.NewRequest(sip.REGISTER, recipient)
	req.AppendHeader(&sip.FromHeader{
		DisplayName: acc.DisplayName,
		Address:     sip.Uri{Scheme: recipient.Scheme, User: acc.Extension, Host: recipient.Host, Port: recipient.Port},
		Params:      sip.NewParams().Add("tag", newTag()),
	})
	req.AppendHeader(&sip.ToHeader{
		DisplayName: acc.DisplayName,
		Address:     sip.Uri{Scheme: recipient.Scheme, User: acc.Extension, Host: recipient.Host, Port: recipient.Port},
		Params:      sip.NewParams(),
	})
	req.AppendHeader(&contact)
	if expiry > 0 {
		expires := sip.ExpiresHeader(expiry.Seconds())
		req.AppendHeader(&expires)
	}
	if acc.UserAgent != "" {
		req.AppendHeader(sip.NewHeader("User-Agent", acc.UserAgent))
	}
	req.AppendHeader(sip.NewHeader("Allow", "INVITE, ACK, CANCEL, BYE, INFO, REFER, NOTIFY, OPTIONS"))

	return &registration{
		id:     id,
		acc:    acc,
		origin: req,
		client: client,
		log:    log.With("acc_id", id),
		expiry: expiry,
		done:   make(chan struct{}),
	}
}

// register sends initial REGISTER and returns final response line
func (r *registration) register(ctx context.Context) (string, error) {
	req := r.origin
	contact := *req.Contact().Clone()

	res, err := r.client.Do(ctx, req, sipgo.ClientRequestRegisterBuild)
	if err != nil {
		return "", fmt.Errorf("fail to create transaction req=%q: %w", req.StartLine(), err)
	}

	via := res.Via()
	if via == nil {
		return "", fmt.Errorf("no Via header in response")
	}

	// https://datatracker.ietf.org/doc/html/rfc3581#section-9
	if rport, _ := via.Params.Get("rport"); rport != "" {
		if p, err := strconv.Atoi(rport); err == nil {
			contact.Address.Port = p
		}
		if received, _ := via.Params.Get("received"); received != "" {
			contact.Address.Host = received
		}
		req.ReplaceHeader(&contact)
	}

	return r.handleResponse(ctx, req, res)
}

func (r *registration) handleResponse(ctx context.Context, req *sip.Request, res *sip.Response) (string, error) {
	var err error
	if res.StatusCode == sip.StatusUnauthorized || res.StatusCode == sip.StatusProxyAuthRequired {
		res, err = r.client.DoDigestAuth(ctx, req, res, sipgo.DigestAuth{
			Username: r.acc.Username(),
			Password: r.acc.Password,
		})
		if err != nil {
			return "", fmt.Errorf("fail to get response req=%q : %w", req.StartLine(), err)
		}
	}

	if res.StatusCode != sip.StatusOK {
		return res.StartLine(), &RegisterResponseError{
			RegisterReq: req,
			RegisterRes: res,
			Msg:         res.StartLine(),
		}
	}

	if h := res.GetHeader("Expires"); h != nil {
		val, err := strconv.Atoi(h.Value())
		if err != nil {
			return res.StartLine(), fmt.Errorf("failed to parse server Expires value: %w", err)
		}
		r.expiry = time.Duration(val) * time.Second
	}
	return res.StartLine(), nil
}

func (r *registration) refresh(ctx context.Context) (string, error) {
	req := r.origin
	req.RemoveHeader("Via")
	res, err := r.client.Do(ctx, req, sipgo.ClientRequestRegisterBuild)
	if err != nil {
		return "", fmt.Errorf("fail to get response req=%q : %w", req.StartLine(), err)
	}
	return r.handleResponse(ctx, req, res)
}

func (r *registration) unregister(ctx context.Context) (string, error) {
	req := r.origin
	req.RemoveHeader("Via")
	req.RemoveHeader("Expires")
	req.RemoveHeader("Contact")
	req.AppendHeader(sip.NewHeader("Contact", "*"))
	expires := sip.ExpiresHeader(0)
	req.AppendHeader(&expires)

	res, err := r.client.Do(ctx, req, sipgo.ClientRequestRegisterBuild)
	if err != nil {
		return "", fmt.Errorf("fail to get response req=%q : %w", req.StartLine(), err)
	}
	return r.handleResponse(ctx, req, res)
}

// refreshInterval is 75% of expiry, 30s when expiry is unknown
func refreshInterval(expiry time.Duration) time.Duration {
	retry := time.Duration(expiry.Seconds()*0.75) * time.Second
	if retry <= 0 {
		retry = 30 * time.Second
	}
	return retry
}

// run registers and keeps refreshing until ctx is done. Results are reported on events.
func (r *registration) run(ctx context.Context, events sipua.EngineEvents) {
	defer close(r.done)

	line, err := r.register(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.log.Info("Register failed", "error", err)
		events.OnRegistrationResult(r.id, sipua.RegFailed, failReason(line, err))
		return
	}
	events.OnRegistrationResult(r.id, sipua.RegSuccess, line)

	if r.expiry <= 0 {
		return
	}

	retry := refreshInterval(r.expiry)
	ticker := time.NewTicker(retry)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		expiry := r.expiry
		line, err := r.refresh(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.Info("Register refresh failed", "error", err)
			events.OnRegistrationResult(r.id, sipua.RegFailed, failReason(line, err))
			return
		}
		events.OnRegistrationResult(r.id, sipua.RegSuccess, line)

		if r.expiry != expiry {
			retry = refreshInterval(r.expiry)
			r.log.Info("Register expiry changed", "expiry_old", expiry, "expiry_new", r.expiry, "retry", retry)
			ticker.Reset(retry)
		}
	}
}

func failReason(line string, err error) string {
	if line != "" {
		return line
	}
	return err.Error()
}

func (e *Engine) SendRegister(id sipua.AccountID, acc sipua.AccountConfig, expire time.Duration) error {
	recipient, err := e.serverURI(acc, "")
	if err != nil {
		return err
	}

	e.mu.Lock()
	old := e.accounts[id]
	reg := newRegistration(e.client, id, acc, recipient, e.contactFor(acc), expire, e.log)
	ctx, cancel := context.WithCancel(e.ctx)
	reg.cancel = cancel
	e.accounts[id] = reg
	e.mu.Unlock()

	if old != nil {
		old.cancel()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if old != nil {
			<-old.done
		}
		reg.run(ctx, e.events)
	}()
	return nil
}

func (e *Engine) SendUnregister(id sipua.AccountID) error {
	e.mu.Lock()
	reg, exists := e.accounts[id]
	delete(e.accounts, id)
	e.mu.Unlock()
	if !exists {
		return fmt.Errorf("account %d is not registered", id)
	}
	reg.cancel()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		<-reg.done

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		line, err := reg.unregister(ctx)
		if err != nil {
			reg.log.Info("Unregister failed", "error", err)
		}
		e.events.OnRegistrationResult(id, sipua.RegRemoved, failReason(line, err))
	}()
	return nil
}

// accountFor finds account by extension dialed in request URI or To header
func (e *Engine) accountFor(user string) (sipua.AccountID, sipua.AccountConfig, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, r := range e.accounts {
		if r.acc.Extension == user {
			return id, r.acc, true
		}
	}
	// Single account takes everything
	if len(e.accounts) == 1 {
		for id, r := range e.accounts {
			return id, r.acc, true
		}
	}
	return 0, sipua.AccountConfig{}, false
}
