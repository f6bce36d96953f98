// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/emiago/sipua"
	"github.com/google/uuid"
)

var (
	errCallNotFound   = errors.New("call leg does not exist")
	errNotEstablished = errors.New("call is not established")
	errAlreadyDecided = errors.New("incoming call already answered or rejected")
)

// decision is app answer for ringing inbound call
type decision struct {
	accept bool
	code   int
}

// callLeg is one SIP dialog with its media
type callLeg struct {
	id       sipua.CallID
	accID    sipua.AccountID
	acc      sipua.AccountConfig
	inbound  bool
	contact  sip.ContactHeader
	media    *mediaSession
	log      *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	decideCh chan decision
	acked    chan struct{}
	ackOnce  sync.Once
	dtmfMu   sync.Mutex

	mu         sync.Mutex
	client     *sipgo.DialogClientSession
	server     *sipgo.DialogServerSession
	answered   bool
	decided    bool
	byePending bool
	localHold  bool
	remoteHold bool
	camMuted   bool

	finishOnce sync.Once
}

func (e *Engine) newCallLeg(id sipua.CallID, accID sipua.AccountID, acc sipua.AccountConfig, inbound bool) (*callLeg, error) {
	media, err := newMediaSession(e.conf.MediaHost, e.conf.RTPPortStart, e.conf.RTPPortEnd)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(e.ctx)
	l := &callLeg{
		id:       id,
		accID:    accID,
		acc:      acc,
		inbound:  inbound,
		contact:  e.contactFor(acc),
		media:    media,
		log:      e.log.With("call_id", id),
		ctx:      ctx,
		cancel:   cancel,
		decideCh: make(chan decision, 1),
		acked:    make(chan struct{}),
	}

	e.mu.Lock()
	e.legs[id] = l
	e.mu.Unlock()
	return l, nil
}

func (e *Engine) leg(id sipua.CallID) (*callLeg, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, exists := e.legs[id]
	if !exists {
		return nil, fmt.Errorf("call %d: %w", id, errCallNotFound)
	}
	return l, nil
}

// establishedLeg returns leg with confirmed dialog
func (e *Engine) establishedLeg(id sipua.CallID) (*callLeg, error) {
	l, err := e.leg(id)
	if err != nil {
		return nil, err
	}
	if !l.isAnswered() {
		return nil, fmt.Errorf("call %d: %w", id, errNotEstablished)
	}
	return l, nil
}

func (e *Engine) bindDialog(dialogID string, l *callLeg) {
	e.mu.Lock()
	e.dialogs[dialogID] = l
	e.mu.Unlock()
}

// finish removes leg and reports termination once
func (e *Engine) finish(l *callLeg, statusCode int) {
	l.finishOnce.Do(func() {
		e.mu.Lock()
		delete(e.legs, l.id)
		for k, v := range e.dialogs {
			if v == l {
				delete(e.dialogs, k)
			}
		}
		if e.active == l.id {
			e.active = 0
		}
		e.mu.Unlock()

		e.stopPlayers(l.id)
		l.close()
		l.log.Info("Call terminated", "status", statusCode)
		e.events.OnCallTerminated(l.id, statusCode)
	})
}

func (l *callLeg) close() {
	l.cancel()
	l.media.close()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client != nil {
		l.client.Close()
	}
	if l.server != nil {
		l.server.Close()
	}
}

func (l *callLeg) isAnswered() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.answered
}

func (l *callLeg) holdState() sipua.HoldState {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := sipua.HoldNone
	if l.localHold {
		h |= sipua.HoldLocal
	}
	if l.remoteHold {
		h |= sipua.HoldRemote
	}
	return h
}

func (l *callLeg) decide(d decision) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.decideUnsafe(d)
}

// decideUnsafe queues single answer for ringing call. Caller holds mu.
func (l *callLeg) decideUnsafe(d decision) error {
	if l.decided {
		return errAlreadyDecided
	}
	l.decided = true
	l.decideCh <- d
	return nil
}

// remoteTarget is remote Contact of dialog
func (l *callLeg) remoteTarget() (sip.Uri, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var h *sip.ContactHeader
	switch {
	case l.client != nil && l.client.InviteResponse != nil:
		h = l.client.InviteResponse.Contact()
	case l.server != nil:
		h = l.server.InviteRequest.Contact()
	}
	if h == nil {
		return sip.Uri{}, fmt.Errorf("no remote contact")
	}
	return h.Address, nil
}

// do sends in dialog request
func (l *callLeg) do(ctx context.Context, req *sip.Request) (*sip.Response, error) {
	l.mu.Lock()
	client, server := l.client, l.server
	l.mu.Unlock()
	if client != nil {
		return client.Do(ctx, req)
	}
	if server != nil {
		return server.Do(ctx, req)
	}
	return nil, errNotEstablished
}

// writeRequest sends in dialog request without transaction. Used for ACK,
// which dialog builds with CSeq of last INVITE.
func (l *callLeg) writeRequest(req *sip.Request) error {
	l.mu.Lock()
	client, server := l.client, l.server
	l.mu.Unlock()
	if client != nil {
		return client.WriteRequest(req)
	}
	if server != nil {
		return server.WriteRequest(req)
	}
	return errNotEstablished
}

func (l *callLeg) readRequest(req *sip.Request, tx sip.ServerTransaction) error {
	l.mu.Lock()
	client, server := l.client, l.server
	l.mu.Unlock()
	if client != nil {
		return client.ReadRequest(req, tx)
	}
	if server != nil {
		return server.ReadRequest(req, tx)
	}
	return errNotEstablished
}

func (l *callLeg) bye(ctx context.Context) error {
	l.mu.Lock()
	client, server := l.client, l.server
	l.mu.Unlock()
	if client != nil {
		return client.Bye(ctx)
	}
	if server != nil {
		return server.Bye(ctx)
	}
	return errNotEstablished
}

// dialogTags returns call id with local and remote tag of established dialog
func (l *callLeg) dialogTags() (callID string, local string, remote string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var req *sip.Request
	var res *sip.Response
	switch {
	case l.client != nil:
		req, res = l.client.InviteRequest, l.client.InviteResponse
	case l.server != nil:
		req, res = l.server.InviteRequest, l.server.InviteResponse
	}
	if req == nil || res == nil {
		return "", "", "", errNotEstablished
	}

	fromTag, _ := req.From().Params.Get("tag")
	toTag, _ := res.To().Params.Get("tag")
	if l.client != nil {
		return req.CallID().Value(), fromTag, toTag, nil
	}
	return req.CallID().Value(), toTag, fromTag, nil
}

func newTag() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

func reasonPhrase(code int) string {
	switch code {
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 480:
		return "Temporarily Unavailable"
	case 486:
		return "Busy Here"
	case 488:
		return "Not Acceptable Here"
	case 500:
		return "Server Internal Error"
	case 503:
		return "Service Unavailable"
	case 603:
		return "Decline"
	}
	return "Rejected"
}

func uriString(u sip.Uri) string {
	scheme := u.Scheme
	if scheme == "" {
		scheme = "sip"
	}
	if u.User == "" {
		return scheme + ":" + u.Host
	}
	return scheme + ":" + u.User + "@" + u.Host
}

// responseCode extracts final status of failed dialog request
func responseCode(err error) int {
	var resErr sipgo.ErrDialogResponse
	if errors.As(err, &resErr) && resErr.Res != nil {
		return int(resErr.Res.StatusCode)
	}
	var resErrPtr *sipgo.ErrDialogResponse
	if errors.As(err, &resErrPtr) && resErrPtr.Res != nil {
		return int(resErrPtr.Res.StatusCode)
	}
	var regErr *RegisterResponseError
	if errors.As(err, &regErr) {
		return regErr.StatusCode()
	}
	switch {
	case errors.Is(err, context.Canceled):
		return int(sip.StatusRequestTerminated)
	case errors.Is(err, context.DeadlineExceeded):
		return int(sip.StatusRequestTimeout)
	}
	return int(sip.StatusInternalServerError)
}

func (e *Engine) onDTMF(id sipua.CallID) func(tone uint8) {
	return func(tone uint8) {
		e.events.OnDtmfReceived(id, uint16(tone))
	}
}

func (e *Engine) SendInvite(id sipua.CallID, acc sipua.AccountConfig, dest sipua.Destination) error {
	recipient, err := e.serverURI(acc, dest.Extension)
	if err != nil {
		return err
	}

	l, err := e.newCallLeg(id, dest.AccountID, acc, false)
	if err != nil {
		return err
	}

	headers := make([]sip.Header, 0, len(dest.Headers))
	for k, v := range dest.Headers {
		headers = append(headers, sip.NewHeader(k, v))
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		code, err := e.runOutbound(l, recipient, headers)
		if err != nil {
			l.log.Info("Outgoing call failed", "error", err, "status", code)
			e.finish(l, code)
		}
	}()
	return nil
}

// runOutbound sends INVITE and waits answer. On failure it returns final status code.
func (e *Engine) runOutbound(l *callLeg, recipient sip.Uri, headers []sip.Header) (int, error) {
	offer, err := l.media.localSDP(DirectionSendRecv, defaultCodecs)
	if err != nil {
		return int(sip.StatusInternalServerError), err
	}

	from, err := e.serverURI(l.acc, "")
	if err != nil {
		return int(sip.StatusInternalServerError), err
	}
	from.User = l.acc.Extension

	req := sip.NewRequest(sip.INVITE, recipient)
	req.AppendHeader(&sip.FromHeader{
		DisplayName: l.acc.DisplayName,
		Address:     from,
		Params:      sip.NewParams().Add("tag", newTag()),
	})
	req.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	if l.acc.UserAgent != "" {
		req.AppendHeader(sip.NewHeader("User-Agent", l.acc.UserAgent))
	}
	for _, h := range headers {
		req.AppendHeader(h)
	}
	if e.network != "udp" {
		req.SetTransport(sip.NetworkToUpper(e.network))
	}
	req.SetBody(offer)

	dialogUA := sipgo.DialogUA{
		Client:     e.client,
		ContactHDR: l.contact,
	}
	d, err := dialogUA.WriteInvite(l.ctx, req)
	if err != nil {
		return responseCode(err), fmt.Errorf("write invite: %w", err)
	}
	l.mu.Lock()
	l.client = d
	l.mu.Unlock()

	err = d.WaitAnswer(l.ctx, sipgo.AnswerOptions{
		OnResponse: func(res *sip.Response) error {
			if res.StatusCode == sip.StatusRinging || res.StatusCode == sip.StatusSessionInProgress {
				e.events.OnCallProceeding(l.id, res.StartLine())
			}
			return nil
		},
		Username: l.acc.Username(),
		Password: l.acc.Password,
	})
	if err != nil {
		return responseCode(err), err
	}

	remote, err := parseSDP(d.InviteResponse.Body())
	if err != nil {
		// Dialog is established, it must be acked and ended
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		d.Ack(ctx)
		d.Bye(ctx)
		return int(sip.StatusNotAcceptableHere), err
	}
	l.media.setRemote(remote)

	if err := d.Ack(l.ctx); err != nil {
		return responseCode(err), fmt.Errorf("send ack: %w", err)
	}

	e.bindDialog(d.ID, l)
	l.mu.Lock()
	l.answered = true
	l.remoteHold = remote.Direction.RemoteHold()
	l.mu.Unlock()

	l.media.start(e.onDTMF(l.id))
	l.log.Info("Call answered", "codec", remote.Codecs[0].Name, "rtp", remote.Addr.String())
	e.events.OnCallConnected(l.id, uriString(d.InviteRequest.From().Address), uriString(d.InviteRequest.To().Address), false)
	if remote.Direction.RemoteHold() {
		e.events.OnCallHeld(l.id, l.holdState())
	}
	return 0, nil
}

func (e *Engine) handleInvite(req *sip.Request, tx sip.ServerTransaction) error {
	if _, err := sip.UASReadRequestDialogID(req); err == nil {
		return e.handleReInvite(req, tx)
	}

	var remote sdpParams
	lateOffer := len(req.Body()) == 0
	if !lateOffer {
		var err error
		remote, err = parseSDP(req.Body())
		if err != nil {
			return tx.Respond(sip.NewResponseFromRequest(req, sip.StatusNotAcceptableHere, "Not Acceptable Here", nil))
		}
	}

	user := req.To().Address.User
	if user == "" {
		user = req.Recipient.User
	}
	accID, acc, exists := e.accountFor(user)
	if !exists {
		return tx.Respond(sip.NewResponseFromRequest(req, sip.StatusNotFound, "Not Found", nil))
	}

	dialogUA := sipgo.DialogUA{
		Client:     e.client,
		ContactHDR: e.contactFor(acc),
	}
	dialog, err := dialogUA.ReadInvite(req, tx)
	if err != nil {
		return fmt.Errorf("handling new INVITE failed: %w", err)
	}
	if err := dialog.Respond(sip.StatusTrying, "Trying", nil); err != nil {
		return err
	}

	from := uriString(req.From().Address)
	to := uriString(req.To().Address)
	id := e.events.OnIncomingCall(accID, false, from, to)
	if id == 0 {
		return dialog.Respond(sip.StatusTemporarilyUnavailable, "Temporarily Unavailable", nil)
	}

	l, err := e.newCallLeg(id, accID, acc, true)
	if err != nil {
		dialog.Respond(sip.StatusInternalServerError, "Internal Server Error", nil)
		e.events.OnCallTerminated(id, int(sip.StatusInternalServerError))
		return err
	}
	l.mu.Lock()
	l.server = dialog
	l.mu.Unlock()
	e.events.OnCallReady(id)

	if err := dialog.Respond(sip.StatusRinging, "Ringing", nil); err != nil {
		e.finish(l, int(sip.StatusInternalServerError))
		return err
	}
	e.events.OnRingerState(true)

	var d decision
	select {
	case d = <-l.decideCh:
	case <-tx.Done():
		// CANCEL or transaction timeout, 487 is sent by transaction layer
		e.events.OnRingerState(false)
		e.finish(l, int(sip.StatusRequestTerminated))
		return nil
	case <-l.ctx.Done():
		e.events.OnRingerState(false)
		dialog.Respond(sip.StatusServiceUnavailable, "Service Unavailable", nil)
		e.finish(l, int(sip.StatusServiceUnavailable))
		return nil
	}
	e.events.OnRingerState(false)

	if !d.accept {
		err := dialog.Respond(d.code, reasonPhrase(d.code), nil)
		e.finish(l, d.code)
		return err
	}
	return e.answer(l, dialog, remote, lateOffer)
}

// answer responds 200 with SDP and waits ACK
func (e *Engine) answer(l *callLeg, dialog *sipgo.DialogServerSession, remote sdpParams, lateOffer bool) error {
	dir := DirectionSendRecv
	codecs := defaultCodecs
	if !lateOffer {
		dir = remote.Direction.Answer(false)
		codecs = remote.Codecs[:1]
		l.media.setRemote(remote)
	}
	body, err := l.media.localSDP(dir, codecs)
	if err != nil {
		dialog.Respond(sip.StatusInternalServerError, "Internal Server Error", nil)
		e.finish(l, int(sip.StatusInternalServerError))
		return err
	}

	e.bindDialog(dialog.ID, l)
	if err := dialog.Respond(sip.StatusOK, "OK", body, sip.NewHeader("Content-Type", "application/sdp")); err != nil {
		e.finish(l, int(sip.StatusInternalServerError))
		return fmt.Errorf("respond 200: %w", err)
	}

	select {
	case <-l.acked:
	case <-time.After(10 * time.Second):
		e.finish(l, int(sip.StatusRequestTimeout))
		return fmt.Errorf("no ACK received")
	case <-l.ctx.Done():
		return nil
	}

	if !e.confirmAnswered(l, remote.Direction.RemoteHold()) {
		return nil
	}

	l.media.start(e.onDTMF(l.id))
	req := dialog.InviteRequest
	e.events.OnCallConnected(l.id, uriString(req.From().Address), uriString(req.To().Address), false)
	if l.holdState() != sipua.HoldNone {
		e.events.OnCallHeld(l.id, l.holdState())
	}
	return nil
}

// confirmAnswered marks ACKed inbound leg answered. If app hung up while
// ACK was pending, dialog is ended with BYE instead and false is returned.
func (e *Engine) confirmAnswered(l *callLeg, remoteHold bool) bool {
	l.mu.Lock()
	if l.byePending {
		l.mu.Unlock()
		ctx, cancel := context.WithTimeout(e.ctx, 10*time.Second)
		defer cancel()
		if err := l.bye(ctx); err != nil {
			l.log.Info("Sending BYE failed", "error", err)
		}
		e.finish(l, sip.StatusOK)
		return false
	}
	l.answered = true
	l.remoteHold = remoteHold
	l.mu.Unlock()
	return true
}

func (e *Engine) handleAck(req *sip.Request, tx sip.ServerTransaction) error {
	l, err := e.matchLeg(req)
	if err != nil {
		// ACK of negative response or unknown dialog
		return nil
	}

	l.mu.Lock()
	server := l.server
	l.mu.Unlock()
	if server == nil {
		return nil
	}

	if body := req.Body(); len(body) > 0 {
		if remote, err := parseSDP(body); err == nil {
			l.media.setRemote(remote)
		} else {
			l.log.Info("Invalid SDP in ACK", "error", err)
		}
	}

	if err := server.ReadAck(req, tx); err != nil {
		l.log.Debug("Reading ACK failed", "error", err)
	}
	l.ackOnce.Do(func() { close(l.acked) })
	return nil
}

func (e *Engine) handleBye(req *sip.Request, tx sip.ServerTransaction) error {
	l, err := e.matchLeg(req)
	if err != nil {
		return respondNoDialog(req, tx, err)
	}

	l.mu.Lock()
	client, server := l.client, l.server
	l.mu.Unlock()
	if client != nil {
		err = client.ReadBye(req, tx)
	} else {
		err = server.ReadBye(req, tx)
	}
	e.finish(l, int(sip.StatusOK))
	return err
}

// handleReInvite applies remote media update and detects remote hold
func (e *Engine) handleReInvite(req *sip.Request, tx sip.ServerTransaction) error {
	l, err := e.matchLeg(req)
	if err != nil {
		return respondNoDialog(req, tx, err)
	}
	if err := l.readRequest(req, tx); err != nil {
		return tx.Respond(sip.NewResponseFromRequest(req, sip.StatusBadRequest, err.Error(), nil))
	}

	remote, err := parseSDP(req.Body())
	if err != nil {
		return tx.Respond(sip.NewResponseFromRequest(req, sip.StatusNotAcceptableHere, err.Error(), nil))
	}
	l.media.setRemote(remote)

	l.mu.Lock()
	localHold := l.localHold
	changed := l.remoteHold != remote.Direction.RemoteHold()
	l.remoteHold = remote.Direction.RemoteHold()
	l.mu.Unlock()

	body, err := l.media.localSDP(remote.Direction.Answer(localHold), remote.Codecs[:1])
	if err != nil {
		return tx.Respond(sip.NewResponseFromRequest(req, sip.StatusInternalServerError, err.Error(), nil))
	}
	res := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", body)
	res.AppendHeader(&l.contact)
	res.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	if err := tx.Respond(res); err != nil {
		return err
	}

	if changed {
		e.events.OnCallHeld(l.id, l.holdState())
	}
	return nil
}

func (e *Engine) SendAccept(id sipua.CallID, withVideo bool) error {
	l, err := e.leg(id)
	if err != nil {
		return err
	}
	if !l.inbound {
		return fmt.Errorf("call %d is outbound", id)
	}
	return l.decide(decision{accept: true})
}

func (e *Engine) SendReject(id sipua.CallID, statusCode int) error {
	l, err := e.leg(id)
	if err != nil {
		return err
	}
	if !l.inbound {
		return fmt.Errorf("call %d is outbound", id)
	}
	return l.decide(decision{code: statusCode})
}

// SendBye ends call in any state. Unanswered outbound call is cancelled.
func (e *Engine) SendBye(id sipua.CallID) error {
	l, err := e.leg(id)
	if err != nil {
		return err
	}

	l.mu.Lock()
	answered := l.answered
	if !answered && l.inbound {
		if err := l.decideUnsafe(decision{code: sip.StatusTemporarilyUnavailable}); err != nil {
			// 200 is sent, dialog can only be ended by BYE after ACK
			l.byePending = true
		}
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	if !answered {
		// WaitAnswer sends CANCEL and reports 487
		l.cancel()
		return nil
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(e.ctx, 10*time.Second)
		defer cancel()
		if err := l.bye(ctx); err != nil {
			l.log.Info("Sending BYE failed", "error", err)
		}
		e.finish(l, int(sip.StatusOK))
	}()
	return nil
}

// SendHold sends re-INVITE with sendonly or sendrecv direction
func (e *Engine) SendHold(id sipua.CallID, hold bool) error {
	l, err := e.establishedLeg(id)
	if err != nil {
		return err
	}
	target, err := l.remoteTarget()
	if err != nil {
		return err
	}

	dir := DirectionSendRecv
	if hold {
		dir = DirectionSendOnly
	}
	body, err := l.media.localSDP(dir, []Codec{l.media.currentCodec()})
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.localHold = hold
	l.mu.Unlock()
	l.media.setHold(hold)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(l.ctx, 10*time.Second)
		defer cancel()

		req := sip.NewRequest(sip.INVITE, target)
		req.AppendHeader(&l.contact)
		req.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
		req.SetBody(body)

		res, err := l.do(ctx, req)
		if err != nil {
			l.log.Info("Hold re-INVITE failed", "error", err)
			return
		}
		if !res.IsSuccess() {
			l.log.Info("Hold re-INVITE rejected", "status", int(res.StatusCode))
			return
		}
		ack := sip.NewRequest(sip.ACK, target)
		if err := l.writeRequest(ack); err != nil {
			l.log.Info("Failed to ACK re-INVITE", "error", err)
		}

		if remote, err := parseSDP(res.Body()); err == nil {
			l.media.setRemote(remote)
		}
		e.events.OnCallHeld(l.id, l.holdState())
	}()
	return nil
}

func (e *Engine) SetMute(id sipua.CallID, kind sipua.MuteKind, mute bool) error {
	l, err := e.leg(id)
	if err != nil {
		return err
	}
	switch kind {
	case sipua.MuteMic:
		l.media.setMuted(mute)
	case sipua.MuteCam:
		// Audio only engine
		l.mu.Lock()
		l.camMuted = mute
		l.mu.Unlock()
	default:
		return fmt.Errorf("unknown mute kind %d", kind)
	}
	return nil
}

func (e *Engine) SwitchActive(id sipua.CallID) error {
	if _, err := e.leg(id); err != nil {
		return err
	}
	e.mu.Lock()
	e.active = id
	e.mu.Unlock()
	e.events.OnCallSwitched(id)
	return nil
}

// MakeConference forwards RTP of every leg into all others
func (e *Engine) MakeConference(ids []sipua.CallID) error {
	legs := make([]*callLeg, 0, len(ids))
	for _, id := range ids {
		l, err := e.establishedLeg(id)
		if err != nil {
			return err
		}
		legs = append(legs, l)
	}

	for _, l := range legs {
		peers := make([]*mediaSession, 0, len(legs)-1)
		for _, p := range legs {
			if p != l {
				peers = append(peers, p.media)
			}
		}
		l.media.setPeers(peers)
	}
	return nil
}
