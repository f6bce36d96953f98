// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipengine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/emiago/sipua"
)

const contentTypeDTMFRelay = "application/dtmf-relay"

// handleInfo reads out of band DTMF
func (e *Engine) handleInfo(req *sip.Request, tx sip.ServerTransaction) error {
	ct := req.ContentType()
	if ct == nil || !strings.EqualFold(strings.TrimSpace(ct.Value()), contentTypeDTMFRelay) {
		return tx.Respond(sip.NewResponseFromRequest(req, sip.StatusNotAcceptable, "Not Acceptable", nil))
	}

	l, err := e.matchLeg(req)
	if err != nil {
		return respondNoDialog(req, tx, err)
	}
	if err := l.readRequest(req, tx); err != nil {
		return tx.Respond(sip.NewResponseFromRequest(req, sip.StatusBadRequest, err.Error(), nil))
	}

	tone, err := parseDTMFInfo(req.Body())
	if err != nil {
		return tx.Respond(sip.NewResponseFromRequest(req, sip.StatusBadRequest, err.Error(), nil))
	}
	if err := tx.Respond(sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)); err != nil {
		return err
	}
	e.events.OnDtmfReceived(l.id, tone)
	return nil
}

// SendDtmf plays tones one after another with gap between them.
// Tones of one call never overlap.
func (e *Engine) SendDtmf(id sipua.CallID, tones string, duration time.Duration, gap time.Duration, method sipua.DtmfMethod) error {
	l, err := e.establishedLeg(id)
	if err != nil {
		return err
	}
	codes := make([]uint16, 0, len(tones))
	for _, r := range tones {
		code, ok := sipua.DigitTone(r)
		if !ok {
			return fmt.Errorf("invalid dtmf tone %q", r)
		}
		codes = append(codes, code)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		l.dtmfMu.Lock()
		defer l.dtmfMu.Unlock()

		for i, code := range codes {
			if i > 0 {
				select {
				case <-time.After(gap):
				case <-l.ctx.Done():
					return
				}
			}

			var err error
			if method == sipua.DtmfInfo {
				err = e.sendDTMFInfo(l, code, duration)
			} else {
				err = l.media.writeDTMF(uint8(code), duration)
			}
			if err != nil {
				l.log.Info("Sending DTMF failed", "method", method.String(), "error", err)
				return
			}
		}
	}()
	return nil
}

func (e *Engine) sendDTMFInfo(l *callLeg, code uint16, duration time.Duration) error {
	digit, _ := sipua.ToneDigit(code)
	target, err := l.remoteTarget()
	if err != nil {
		return err
	}

	req := sip.NewRequest(sip.INFO, target)
	req.AppendHeader(sip.NewHeader("Content-Type", contentTypeDTMFRelay))
	req.AppendHeader(&l.contact)
	req.SetBody(formatDTMFInfo(digit, duration))

	ctx, cancel := context.WithTimeout(l.ctx, 5*time.Second)
	defer cancel()
	res, err := l.do(ctx, req)
	if err != nil {
		return err
	}
	if !res.IsSuccess() {
		return fmt.Errorf("INFO rejected: %s", res.StartLine())
	}
	return nil
}
