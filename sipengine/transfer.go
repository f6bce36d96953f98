// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipengine

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/emiago/sipua"
)

// SendTransferBlind sends REFER with Refer-To target
func (e *Engine) SendTransferBlind(id sipua.CallID, target string) error {
	l, err := e.establishedLeg(id)
	if err != nil {
		return err
	}
	uri, err := e.serverURI(l.acc, target)
	if err != nil {
		return err
	}
	return e.sendRefer(l, "<"+uri.String()+">")
}

// SendTransferAttended refers src remote party to dst remote party replacing dst dialog
func (e *Engine) SendTransferAttended(src sipua.CallID, dst sipua.CallID) error {
	l, err := e.establishedLeg(src)
	if err != nil {
		return err
	}
	target, err := e.establishedLeg(dst)
	if err != nil {
		return err
	}

	callID, local, remote, err := target.dialogTags()
	if err != nil {
		return err
	}
	uri, err := target.remoteTarget()
	if err != nil {
		return err
	}
	return e.sendRefer(l, referToReplaces(uri, callID, local, remote))
}

// referToReplaces builds Refer-To with Replaces of dialog as seen by transfer target.
// Target local tag is our remote tag.
func referToReplaces(uri sip.Uri, callID string, localTag string, remoteTag string) string {
	replaces := fmt.Sprintf("%s;to-tag=%s;from-tag=%s", callID, remoteTag, localTag)
	u := sip.Uri{
		Scheme:    uri.Scheme,
		User:      uri.User,
		Host:      uri.Host,
		Port:      uri.Port,
		UriParams: sip.NewParams(),
		Headers:   sip.NewParams(),
	}
	return fmt.Sprintf("<%s?Replaces=%s>", u.String(), url.QueryEscape(replaces))
}

func (e *Engine) sendRefer(l *callLeg, referTo string) error {
	target, err := l.remoteTarget()
	if err != nil {
		return err
	}

	req := sip.NewRequest(sip.REFER, target)
	req.AppendHeader(sip.NewHeader("Refer-To", referTo))
	req.AppendHeader(sip.NewHeader("Referred-By", "<"+l.acc.AOR()+">"))
	req.AppendHeader(&l.contact)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(l.ctx, 10*time.Second)
		defer cancel()

		res, err := l.do(ctx, req)
		if err != nil {
			l.log.Info("REFER failed", "error", err)
			e.events.OnCallTransferred(l.id, responseCode(err))
			return
		}
		e.events.OnCallTransferred(l.id, int(res.StatusCode))
	}()
	return nil
}

// handleRefer accepts transfer request and dials Refer-To on behalf of call
func (e *Engine) handleRefer(req *sip.Request, tx sip.ServerTransaction) error {
	l, err := e.matchLeg(req)
	if err != nil {
		return respondNoDialog(req, tx, err)
	}
	if err := l.readRequest(req, tx); err != nil {
		return tx.Respond(sip.NewResponseFromRequest(req, sip.StatusBadRequest, err.Error(), nil))
	}

	h := req.GetHeader("Refer-To")
	if h == nil {
		return tx.Respond(sip.NewResponseFromRequest(req, sip.StatusBadRequest, "Missing Refer-To", nil))
	}
	referTo, err := parseReferTo(h.Value())
	if err != nil {
		return tx.Respond(sip.NewResponseFromRequest(req, sip.StatusBadRequest, err.Error(), nil))
	}

	if err := tx.Respond(sip.NewResponseFromRequest(req, sip.StatusAccepted, "Accepted", nil)); err != nil {
		return err
	}

	newID := e.events.OnCallRedirected(l.id, uriString(referTo))
	if newID == 0 {
		e.notifyRefer(l, "SIP/2.0 503 Service Unavailable", true)
		return nil
	}

	recipient := sip.Uri{
		Scheme:    referTo.Scheme,
		User:      referTo.User,
		Host:      referTo.Host,
		Port:      referTo.Port,
		UriParams: sip.NewParams(),
		Headers:   sip.NewParams(),
	}
	nl, err := e.newCallLeg(newID, l.accID, l.acc, false)
	if err != nil {
		e.notifyRefer(l, "SIP/2.0 500 Server Internal Error", true)
		e.events.OnCallTerminated(newID, int(sip.StatusInternalServerError))
		return err
	}
	e.events.OnCallReady(newID)
	e.notifyRefer(l, "SIP/2.0 100 Trying", false)

	var headers []sip.Header
	if replaces := referTo.Headers; replaces != nil {
		if v, ok := replaces.Get("Replaces"); ok {
			if unescaped, err := url.QueryUnescape(v); err == nil {
				v = unescaped
			}
			headers = append(headers, sip.NewHeader("Replaces", v))
		}
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		code, err := e.runOutbound(nl, recipient, headers)
		if err != nil {
			nl.log.Info("Redirected call failed", "error", err, "status", code)
			e.notifyRefer(l, fmt.Sprintf("SIP/2.0 %d %s", code, reasonPhrase(code)), true)
			e.finish(nl, code)
			return
		}
		e.notifyRefer(l, "SIP/2.0 200 OK", true)
	}()
	return nil
}

// parseReferTo reads URI of Refer-To value, headers part included
func parseReferTo(val string) (sip.Uri, error) {
	uri := sip.Uri{}
	val = strings.TrimSpace(val)
	if i := strings.Index(val, "<"); i >= 0 {
		j := strings.Index(val, ">")
		if j < i {
			return uri, fmt.Errorf("invalid Refer-To %q", val)
		}
		val = val[i+1 : j]
	}
	if err := sip.ParseUri(val, &uri); err != nil {
		return uri, fmt.Errorf("invalid Refer-To %q: %w", val, err)
	}
	return uri, nil
}

// notifyRefer reports progress of accepted REFER in original dialog
func (e *Engine) notifyRefer(l *callLeg, sipfrag string, final bool) {
	target, err := l.remoteTarget()
	if err != nil {
		l.log.Info("Cannot notify refer", "error", err)
		return
	}

	req := sip.NewRequest(sip.NOTIFY, target)
	req.AppendHeader(sip.NewHeader("Event", "refer"))
	if final {
		req.AppendHeader(sip.NewHeader("Subscription-State", "terminated;reason=noresource"))
	} else {
		req.AppendHeader(sip.NewHeader("Subscription-State", "active;expires=60"))
	}
	req.AppendHeader(sip.NewHeader("Content-Type", "message/sipfrag;version=2.0"))
	req.AppendHeader(&l.contact)
	req.SetBody([]byte(sipfrag + "\r\n"))

	ctx, cancel := context.WithTimeout(e.ctx, 5*time.Second)
	defer cancel()
	res, err := l.do(ctx, req)
	if err != nil {
		l.log.Info("Refer NOTIFY failed", "error", err)
		return
	}
	if !res.IsSuccess() {
		l.log.Info("Refer NOTIFY rejected", "status", int(res.StatusCode))
	}
}

// handleNotify reads transfer progress of REFER we sent
func (e *Engine) handleNotify(req *sip.Request, tx sip.ServerTransaction) error {
	l, err := e.matchLeg(req)
	if err != nil {
		return respondNoDialog(req, tx, err)
	}
	if err := l.readRequest(req, tx); err != nil {
		return tx.Respond(sip.NewResponseFromRequest(req, sip.StatusBadRequest, err.Error(), nil))
	}

	ev := req.GetHeader("Event")
	if ev == nil || !strings.HasPrefix(strings.ToLower(ev.Value()), "refer") {
		return tx.Respond(sip.NewResponseFromRequest(req, 489, "Bad Event", nil))
	}
	if err := tx.Respond(sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)); err != nil {
		return err
	}

	code, err := parseSipfrag(req.Body())
	if err != nil {
		l.log.Info("Invalid sipfrag in NOTIFY", "error", err)
		return nil
	}
	e.events.OnCallTransferred(l.id, code)
	return nil
}

// parseSipfrag returns status code of message/sipfrag status line
func parseSipfrag(body []byte) (int, error) {
	scanner := bufio.NewScanner(bytes.NewReader(body))
	if !scanner.Scan() {
		return 0, fmt.Errorf("empty sipfrag")
	}
	line := strings.TrimSpace(scanner.Text())
	fields := strings.Fields(line)
	if len(fields) < 2 || !strings.HasPrefix(fields[0], "SIP/") {
		return 0, fmt.Errorf("invalid status line %q", line)
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil || code < 100 || code > 699 {
		return 0, fmt.Errorf("invalid status code in %q", line)
	}
	return code, nil
}
