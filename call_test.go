// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipua

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallFSMTransitions(t *testing.T) {
	c := &call{id: 1, fsm: newCallFSM(CallStateInitiating)}

	// Initiating can not be put on hold or connected directly
	assert.False(t, c.can(evHold))
	assert.False(t, c.can(evConnect))
	assert.Error(t, c.fire(evHold))
	assert.Equal(t, CallStateInitiating, c.state())

	require.NoError(t, c.fire(evProceed))
	require.NoError(t, c.fire(evConnect))
	require.NoError(t, c.fire(evHold))
	assert.Equal(t, CallStateHeld, c.state())
	require.NoError(t, c.fire(evUnhold))
	require.NoError(t, c.fire(evTerminate))
	assert.True(t, c.state().IsTerminal())

	for _, ev := range []string{evProceed, evConnect, evHold, evUnhold, evTerminate} {
		assert.False(t, c.can(ev), ev)
	}

	in := &call{id: 2, fsm: newCallFSM(CallStateIncoming)}
	require.NoError(t, in.fire(evConnect))
	assert.Equal(t, CallStateConnected, in.state())
}

func TestCallOutboundFlow(t *testing.T) {
	env := newTestEnv(t)
	accID := env.registeredAccount(t)

	id, err := env.m.Invite(Destination{AccountID: accID, Extension: "200", WithVideo: true})
	require.NoError(t, err)
	assert.Equal(t, CallStateInitiating, env.callState(t, id))

	env.m.OnCallProceeding(id, "180 Ringing")
	env.waitEvent(t, EventCallProceeding)
	assert.Equal(t, CallStateProceeding, env.callState(t, id))

	env.m.OnCallConnected(id, "", "", true)
	env.waitEvent(t, EventCallConnected)

	c, err := env.m.Call(id)
	require.NoError(t, err)
	assert.Equal(t, CallStateConnected, c.State)
	assert.Equal(t, DirectionOutbound, c.Direction)
	assert.True(t, c.WithVideo)
	assert.Equal(t, "sip:100@sip.example.com", c.From)
	assert.Equal(t, "200", c.To)

	assert.Len(t, env.m.Calls(), 1)
}

func TestCallInboundAccept(t *testing.T) {
	env := newTestEnv(t)
	accID := env.registeredAccount(t)

	id := env.m.OnIncomingCall(accID, false, "sip:300@sip.example.com", "sip:100@sip.example.com")
	require.NotZero(t, id)
	env.noEvent(t, EventCallIncoming, 50*time.Millisecond)

	env.m.OnCallReady(id)
	ev := env.waitEvent(t, EventCallIncoming).(CallIncomingEvent)
	assert.Equal(t, id, ev.CallID)
	assert.Equal(t, accID, ev.AccountID)
	assert.Equal(t, "sip:300@sip.example.com", ev.From)

	env.m.OnCallReady(id)
	env.noEvent(t, EventCallIncoming, 50*time.Millisecond)

	require.NoError(t, env.m.Accept(id, false))
	assert.Equal(t, CallStateProceeding, env.callState(t, id))
	assert.ErrorIs(t, env.m.Accept(id, false), ErrInvalidState)

	env.m.OnCallConnected(id, "", "", false)
	env.waitEvent(t, EventCallConnected)
	assert.Equal(t, CallStateConnected, env.callState(t, id))
	assert.Contains(t, env.engine.requests(), "accept 1 false")
}

func TestCallIncomingUnknownAccount(t *testing.T) {
	env := newTestEnv(t)
	assert.Zero(t, env.m.OnIncomingCall(7, false, "a", "b"))
}

func TestCallReject(t *testing.T) {
	env := newTestEnv(t)
	accID := env.registeredAccount(t)

	id := env.m.OnIncomingCall(accID, false, "sip:300@sip.example.com", "sip:100@sip.example.com")
	assert.ErrorIs(t, env.m.Reject(id, 200), ErrInvalidArgument)
	require.NoError(t, env.m.Reject(id, 0))
	assert.Equal(t, CallStateTerminated, env.callState(t, id))
	assert.Contains(t, env.engine.requests(), "reject 1 486")

	assert.ErrorIs(t, env.m.Reject(id, 603), ErrInvalidState)

	out := env.connectedCall(t, accID)
	assert.ErrorIs(t, env.m.Reject(out, 486), ErrInvalidState)
}

func TestCallRejectOutboundProceeding(t *testing.T) {
	env := newTestEnv(t)
	accID := env.registeredAccount(t)

	id, err := env.m.Invite(Destination{AccountID: accID, Extension: "200"})
	require.NoError(t, err)
	env.m.OnCallProceeding(id, "180 Ringing")
	env.waitEvent(t, EventCallProceeding)
	require.Equal(t, CallStateProceeding, env.callState(t, id))

	assert.ErrorIs(t, env.m.Reject(id, 486), ErrInvalidState)
	assert.Equal(t, CallStateProceeding, env.callState(t, id))
	assert.Empty(t, filterRequests(env.engine.requests(), "reject"))
}

func TestCallByeIdempotent(t *testing.T) {
	env := newTestEnv(t)
	accID := env.registeredAccount(t)
	id := env.connectedCall(t, accID)

	require.NoError(t, env.m.Bye(id))
	assert.Equal(t, CallStateTerminated, env.callState(t, id))
	assert.ErrorIs(t, env.m.Bye(id), ErrNotFound)
	assert.ErrorIs(t, env.m.Bye(999), ErrNotFound)
	assert.Empty(t, env.m.Calls())

	// Late completion does not revive call
	env.m.OnCallConnected(id, "", "", false)
	env.waitEvent(t, EventCallConnected)
	assert.Equal(t, CallStateTerminated, env.callState(t, id))
}

func TestCallByeInitiating(t *testing.T) {
	env := newTestEnv(t)
	accID := env.registeredAccount(t)

	id, err := env.m.Invite(Destination{AccountID: accID, Extension: "200"})
	require.NoError(t, err)
	require.NoError(t, env.m.Bye(id))
	env.m.OnCallProceeding(id, "180 Ringing")
	env.waitEvent(t, EventCallProceeding)
	assert.Equal(t, CallStateTerminated, env.callState(t, id))
}

func TestCallHoldToggle(t *testing.T) {
	env := newTestEnv(t)
	accID := env.registeredAccount(t)
	id := env.connectedCall(t, accID)

	require.NoError(t, env.m.Hold(id))
	c, _ := env.m.Call(id)
	assert.Equal(t, CallStateHeld, c.State)
	assert.Equal(t, HoldLocal, c.Hold)

	require.NoError(t, env.m.Hold(id))
	c, _ = env.m.Call(id)
	assert.Equal(t, CallStateConnected, c.State)
	assert.Equal(t, HoldNone, c.Hold)

	// Remote hold followed by local hold keeps call held until both release
	env.m.OnCallHeld(id, HoldRemote)
	env.waitEvent(t, EventCallHeld)
	assert.Equal(t, CallStateHeld, env.callState(t, id))
	require.NoError(t, env.m.Hold(id))
	c, _ = env.m.Call(id)
	assert.Equal(t, HoldLocalAndRemote, c.Hold)

	env.m.OnCallHeld(id, HoldLocal)
	env.waitEvent(t, EventCallHeld)
	require.NoError(t, env.m.Hold(id))
	assert.Equal(t, CallStateConnected, env.callState(t, id))

	assert.Equal(t, []string{"hold 1 true", "hold 1 false", "hold 1 true", "hold 1 false"},
		filterRequests(env.engine.requests(), "hold"))
}

func TestCallHoldInvalidState(t *testing.T) {
	env := newTestEnv(t)
	accID := env.registeredAccount(t)

	id, err := env.m.Invite(Destination{AccountID: accID, Extension: "200"})
	require.NoError(t, err)
	assert.ErrorIs(t, env.m.Hold(id), ErrInvalidState)

	require.NoError(t, env.m.Bye(id))
	assert.ErrorIs(t, env.m.Hold(id), ErrInvalidState)
	assert.ErrorIs(t, env.m.Hold(1234), ErrNotFound)
}

func TestCallTransfer(t *testing.T) {
	env := newTestEnv(t)
	accID := env.registeredAccount(t)
	first := env.connectedCall(t, accID)
	second := env.connectedCall(t, accID)

	assert.ErrorIs(t, env.m.TransferBlind(first, ""), ErrInvalidArgument)
	require.NoError(t, env.m.TransferBlind(first, "sip:500@sip.example.com"))

	require.NoError(t, env.m.Hold(first))
	assert.ErrorIs(t, env.m.TransferBlind(first, "500"), ErrInvalidState)
	assert.ErrorIs(t, env.m.TransferAttended(first, second), ErrInvalidState)
	assert.ErrorIs(t, env.m.TransferAttended(second, first), ErrInvalidState)
	assert.NotContains(t, env.engine.requests(), "refer 1 2")

	require.NoError(t, env.m.Hold(first))
	require.NoError(t, env.m.TransferAttended(first, second))
	assert.ErrorIs(t, env.m.TransferAttended(first, first), ErrInvalidArgument)

	require.NoError(t, env.m.Bye(second))
	assert.ErrorIs(t, env.m.TransferAttended(first, second), ErrInvalidState)

	env.m.OnCallTransferred(first, 202)
	ev := env.waitEvent(t, EventCallTransferred).(CallTransferredEvent)
	assert.Equal(t, 202, ev.StatusCode)
}

func TestCallRedirected(t *testing.T) {
	env := newTestEnv(t)
	accID := env.registeredAccount(t)
	orig := env.connectedCall(t, accID)

	related := env.m.OnCallRedirected(orig, "sip:500@sip.example.com")
	require.NotZero(t, related)
	require.NotEqual(t, orig, related)
	env.noEvent(t, EventCallRedirected, 50*time.Millisecond)

	env.m.OnCallReady(related)
	ev := env.waitEvent(t, EventCallRedirected).(CallRedirectedEvent)
	assert.Equal(t, orig, ev.OrigCallID)
	assert.Equal(t, related, ev.RelatedCallID)

	c, err := env.m.Call(related)
	require.NoError(t, err)
	assert.Equal(t, CallStateInitiating, c.State)
	assert.Equal(t, "sip:500@sip.example.com", c.To)
	assert.Equal(t, accID, c.AccountID)

	assert.Zero(t, env.m.OnCallRedirected(777, "sip:1@x"))
}

func TestCallSendDtmf(t *testing.T) {
	env := newTestEnv(t)
	accID := env.registeredAccount(t)
	id := env.connectedCall(t, accID)

	require.NoError(t, env.m.SendDtmf(id, "12*#", 0, 0, DtmfRTP))
	require.NoError(t, env.m.SendDtmf(id, "9", 100, 20, DtmfInfo))
	assert.Equal(t, []string{"dtmf 1 12*# 200ms 50ms RTP", "dtmf 1 9 100ms 20ms INFO"},
		filterRequests(env.engine.requests(), "dtmf"))

	assert.ErrorIs(t, env.m.SendDtmf(id, "", 0, 0, DtmfRTP), ErrInvalidArgument)
	assert.ErrorIs(t, env.m.SendDtmf(id, "12x", 0, 0, DtmfRTP), ErrInvalidArgument)
	assert.ErrorIs(t, env.m.SendDtmf(id, "1", 10, 0, DtmfRTP), ErrInvalidArgument)
	assert.ErrorIs(t, env.m.SendDtmf(id, "1", 0, -1, DtmfRTP), ErrInvalidArgument)
	assert.ErrorIs(t, env.m.SendDtmf(id, "1", 0, 0, 5), ErrInvalidArgument)

	require.NoError(t, env.m.Hold(id))
	assert.ErrorIs(t, env.m.SendDtmf(id, "1", 0, 0, DtmfRTP), ErrInvalidState)
}

func TestCallMute(t *testing.T) {
	env := newTestEnv(t)
	accID := env.registeredAccount(t)
	id := env.connectedCall(t, accID)

	require.NoError(t, env.m.MuteMic(id, true))
	require.NoError(t, env.m.MuteCam(id, true))
	c, _ := env.m.Call(id)
	assert.True(t, c.MicMuted)
	assert.True(t, c.CamMuted)

	require.NoError(t, env.m.MuteMic(id, false))
	c, _ = env.m.Call(id)
	assert.False(t, c.MicMuted)

	require.NoError(t, env.m.Bye(id))
	assert.ErrorIs(t, env.m.MuteMic(id, true), ErrInvalidState)
}

func TestCallEngineInviteFailure(t *testing.T) {
	env := newTestEnv(t)
	accID := env.registeredAccount(t)
	env.engine.inviteErr = errors.New("no route")

	id, err := env.m.Invite(Destination{AccountID: accID, Extension: "200"})
	require.NoError(t, err)

	ev := env.waitEvent(t, EventCallTerminated).(CallTerminatedEvent)
	assert.Equal(t, id, ev.CallID)
	assert.Zero(t, ev.StatusCode)
	assert.Contains(t, ev.Reason, "no route")
	assert.Equal(t, CallStateTerminated, env.callState(t, id))
}

func TestCallTombstonePruning(t *testing.T) {
	env := newTestEnv(t)
	accID := env.registeredAccount(t)

	var first CallID
	for i := 0; i < maxTombstones+1; i++ {
		id, err := env.m.Invite(Destination{AccountID: accID, Extension: "200"})
		require.NoError(t, err)
		if first == 0 {
			first = id
		}
		require.NoError(t, env.m.Bye(id))
	}

	_, err := env.m.Call(first)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = env.m.Call(first + 1)
	assert.NoError(t, err)
}

func filterRequests(reqs []string, prefix string) []string {
	var out []string
	for _, r := range reqs {
		if len(r) > len(prefix) && r[:len(prefix)+1] == prefix+" " {
			out = append(out, r)
		}
	}
	return out
}

func TestCallHeldEventsFollowState(t *testing.T) {
	env := newTestEnv(t)
	accID := env.registeredAccount(t)
	id := env.connectedCall(t, accID)

	const reports = 50
	var wg sync.WaitGroup
	for i := 0; i < reports; i++ {
		state := HoldRemote
		if i%2 == 1 {
			state = HoldNone
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			env.m.OnCallHeld(id, state)
		}()
	}
	wg.Wait()

	var last CallHeldEvent
	for i := 0; i < reports; i++ {
		last = env.waitEvent(t, EventCallHeld).(CallHeldEvent)
	}
	c, err := env.m.Call(id)
	require.NoError(t, err)
	assert.Equal(t, last.Hold, c.Hold)
}
