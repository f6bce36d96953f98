// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipengine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/emiago/sipua"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineContact(t *testing.T) {
	e, _ := newTestEngine(t)
	acc := sipua.AccountConfig{Extension: "100", DisplayName: "Alice"}

	c := e.contactFor(acc)
	assert.Equal(t, "sip", c.Address.Scheme)
	assert.Equal(t, "100", c.Address.User)
	assert.Equal(t, "127.0.0.1", c.Address.Host)
	assert.Equal(t, 5060, c.Address.Port)
	_, hasTransport := c.Address.UriParams.Get("transport")
	assert.False(t, hasTransport)

	e.network = "tls"
	acc.InstanceID = "urn:uuid:00000000-0000-0000-0000-000000000001"
	c = e.contactFor(acc)
	assert.Equal(t, "sips", c.Address.Scheme)
	transport, _ := c.Address.UriParams.Get("transport")
	assert.Equal(t, "tls", transport)
	instance, _ := c.Params.Get("+sip.instance")
	assert.Equal(t, `"urn:uuid:00000000-0000-0000-0000-000000000001"`, instance)
}

func TestEngineServerURI(t *testing.T) {
	e, _ := newTestEngine(t)
	acc := sipua.AccountConfig{SipServer: "pbx.local:5070", Extension: "100"}

	uri, err := e.serverURI(acc, "")
	require.NoError(t, err)
	assert.Equal(t, "pbx.local", uri.Host)
	assert.Equal(t, 5070, uri.Port)
	assert.Empty(t, uri.User)

	uri, err = e.serverURI(acc, "200")
	require.NoError(t, err)
	assert.Equal(t, "200", uri.User)
	assert.Equal(t, "pbx.local", uri.Host)

	uri, err = e.serverURI(acc, "sip:300@10.1.1.1")
	require.NoError(t, err)
	assert.Equal(t, "300", uri.User)
	assert.Equal(t, "10.1.1.1", uri.Host)
}

func TestEngineDevices(t *testing.T) {
	e, _ := newTestEngine(t)

	playout, err := e.EnumerateDevices(sipua.DevicePlayout)
	require.NoError(t, err)
	require.Len(t, playout, 2)
	assert.Equal(t, "null-playout", playout[0].GUID)

	// Returned list is a copy
	playout[0].Name = "changed"
	again, _ := e.EnumerateDevices(sipua.DevicePlayout)
	assert.Equal(t, "Null playout", again[0].Name)

	require.NoError(t, e.SelectDevice(sipua.DevicePlayout, 1))
	assert.Equal(t, 1, e.selected[sipua.DevicePlayout])
	require.Error(t, e.SelectDevice(sipua.DevicePlayout, 2))
	require.Error(t, e.SelectDevice(sipua.DeviceRecording, -1))
}

func TestEngineResponseCode(t *testing.T) {
	tests := []struct {
		err      error
		expected int
	}{
		{err: sipgo.ErrDialogResponse{Res: sip.NewResponse(sip.StatusBusyHere, "Busy Here")}, expected: 486},
		{err: fmt.Errorf("invite: %w", sipgo.ErrDialogResponse{Res: sip.NewResponse(sip.StatusForbidden, "Forbidden")}), expected: 403},
		{err: context.Canceled, expected: 487},
		{err: fmt.Errorf("wait answer: %w", context.DeadlineExceeded), expected: 408},
		{err: errors.New("transport closed"), expected: 500},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.expected, responseCode(tc.err), tc.err.Error())
	}
}

func TestEngineMuteSwitch(t *testing.T) {
	e, rec := newTestEngine(t)
	l := answeredLeg(t, e, 1)
	answeredLeg(t, e, 2)

	require.NoError(t, e.SetMute(1, sipua.MuteMic, true))
	l.media.mu.Lock()
	assert.True(t, l.media.muted)
	l.media.mu.Unlock()

	require.NoError(t, e.SetMute(1, sipua.MuteCam, true))
	assert.True(t, l.camMuted)
	require.Error(t, e.SetMute(1, sipua.MuteKind(99), true))
	require.ErrorIs(t, e.SetMute(7, sipua.MuteMic, true), errCallNotFound)

	require.NoError(t, e.SwitchActive(2))
	assert.Equal(t, "switched 2", rec.wait(t))
	assert.Equal(t, sipua.CallID(2), e.active)
	require.ErrorIs(t, e.SwitchActive(7), errCallNotFound)
}

func TestEngineConference(t *testing.T) {
	e, _ := newTestEngine(t)
	a := answeredLeg(t, e, 1)
	b := answeredLeg(t, e, 2)
	c := answeredLeg(t, e, 3)

	require.NoError(t, e.MakeConference([]sipua.CallID{1, 2, 3}))
	a.media.mu.Lock()
	assert.ElementsMatch(t, []*mediaSession{b.media, c.media}, a.media.peers)
	a.media.mu.Unlock()

	c.answered = false
	require.ErrorIs(t, e.MakeConference([]sipua.CallID{1, 3}), errNotEstablished)
}

func TestEngineIncomingDecision(t *testing.T) {
	e, _ := newTestEngine(t)
	l, err := e.newCallLeg(5, 1, sipua.AccountConfig{Extension: "100"}, true)
	require.NoError(t, err)
	t.Cleanup(l.close)

	require.NoError(t, e.SendReject(5, 486))
	require.ErrorIs(t, e.SendAccept(5, false), errAlreadyDecided)

	select {
	case d := <-l.decideCh:
		assert.False(t, d.accept)
		assert.Equal(t, 486, d.code)
	case <-time.After(time.Second):
		t.Fatal("no decision")
	}
}

func TestEngineSendDtmfInvalid(t *testing.T) {
	e, _ := newTestEngine(t)
	answeredLeg(t, e, 1)

	require.Error(t, e.SendDtmf(1, "12x", 100*time.Millisecond, 50*time.Millisecond, sipua.DtmfRTP))
	require.ErrorIs(t, e.SendDtmf(2, "1", 100*time.Millisecond, 0, sipua.DtmfRTP), errCallNotFound)
}

func TestEngineFinishOnce(t *testing.T) {
	e, rec := newTestEngine(t)
	l := answeredLeg(t, e, 1)
	e.bindDialog("dialog-1", l)
	e.active = 1

	e.finish(l, 200)
	e.finish(l, 500)
	assert.Equal(t, "terminated 1 200", rec.wait(t))
	select {
	case ev := <-rec.ch:
		t.Fatalf("unexpected event %q", ev)
	case <-time.After(100 * time.Millisecond):
	}

	assert.Empty(t, e.dialogs)
	assert.Zero(t, e.active)
}

func TestEngineByeBeforeAck(t *testing.T) {
	e, rec := newTestEngine(t)
	l, err := e.newCallLeg(5, 1, sipua.AccountConfig{Extension: "100"}, true)
	require.NoError(t, err)
	t.Cleanup(l.close)

	require.NoError(t, e.SendAccept(5, false))
	d := <-l.decideCh
	require.True(t, d.accept)

	// 200 OK is out, hangup must wait for ACK
	require.NoError(t, e.SendBye(5))
	select {
	case ev := <-rec.ch:
		t.Fatalf("unexpected event %q", ev)
	case <-time.After(100 * time.Millisecond):
	}
	_, err = e.leg(5)
	require.NoError(t, err)
	assert.Empty(t, l.decideCh)

	assert.False(t, e.confirmAnswered(l, false))
	assert.Equal(t, "terminated 5 200", rec.wait(t))
	assert.False(t, l.isAnswered())
	_, err = e.leg(5)
	require.ErrorIs(t, err, errCallNotFound)
}

func TestEngineByeWhileRinging(t *testing.T) {
	e, _ := newTestEngine(t)
	l, err := e.newCallLeg(6, 1, sipua.AccountConfig{Extension: "100"}, true)
	require.NoError(t, err)
	t.Cleanup(l.close)

	require.NoError(t, e.SendBye(6))
	d := <-l.decideCh
	assert.False(t, d.accept)
	assert.Equal(t, sip.StatusTemporarilyUnavailable, d.code)
	assert.False(t, l.byePending)
	require.ErrorIs(t, e.SendAccept(6, false), errAlreadyDecided)
}
