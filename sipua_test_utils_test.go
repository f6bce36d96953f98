// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipua

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeEngine records requests and lets tests play network layer through events
type fakeEngine struct {
	mu      sync.Mutex
	events  EngineEvents
	reqs    []string
	stopped bool

	startErr  error
	inviteErr error
	devices   map[DeviceKind][]Device
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		devices: map[DeviceKind][]Device{
			DevicePlayout:   {{Name: "Speakers", GUID: "p0"}, {Name: "Headset", GUID: "p1"}},
			DeviceRecording: {{Name: "Mic", GUID: "r0"}},
			DeviceVideo:     {},
		},
	}
}

func (e *fakeEngine) record(format string, args ...any) {
	e.mu.Lock()
	e.reqs = append(e.reqs, fmt.Sprintf(format, args...))
	e.mu.Unlock()
}

func (e *fakeEngine) requests() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.reqs...)
}

func (e *fakeEngine) Start(ctx context.Context, events EngineEvents) error {
	if e.startErr != nil {
		return e.startErr
	}
	e.events = events
	return nil
}

func (e *fakeEngine) Stop(ctx context.Context) error {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) SendRegister(id AccountID, acc AccountConfig, expire time.Duration) error {
	e.record("register %d %s", id, expire)
	return nil
}

func (e *fakeEngine) SendUnregister(id AccountID) error {
	e.record("unregister %d", id)
	return nil
}

func (e *fakeEngine) SendInvite(id CallID, acc AccountConfig, dest Destination) error {
	e.record("invite %d %s", id, dest.Extension)
	return e.inviteErr
}

func (e *fakeEngine) SendAccept(id CallID, withVideo bool) error {
	e.record("accept %d %t", id, withVideo)
	return nil
}

func (e *fakeEngine) SendReject(id CallID, statusCode int) error {
	e.record("reject %d %d", id, statusCode)
	return nil
}

func (e *fakeEngine) SendBye(id CallID) error {
	e.record("bye %d", id)
	return nil
}

func (e *fakeEngine) SendHold(id CallID, hold bool) error {
	e.record("hold %d %t", id, hold)
	return nil
}

func (e *fakeEngine) SendTransferBlind(id CallID, target string) error {
	e.record("refer %d %s", id, target)
	return nil
}

func (e *fakeEngine) SendTransferAttended(src CallID, dst CallID) error {
	e.record("refer %d %d", src, dst)
	return nil
}

func (e *fakeEngine) SendDtmf(id CallID, tones string, duration time.Duration, gap time.Duration, method DtmfMethod) error {
	e.record("dtmf %d %s %s %s %s", id, tones, duration, gap, method)
	return nil
}

func (e *fakeEngine) SetMute(id CallID, kind MuteKind, mute bool) error {
	e.record("mute %d %d %t", id, kind, mute)
	return nil
}

func (e *fakeEngine) StartPlayback(id PlayerID, callID CallID, path string, loop bool) error {
	e.record("play %d %d %s", id, callID, path)
	return nil
}

func (e *fakeEngine) StopPlayback(id PlayerID) error {
	e.record("stopplay %d", id)
	return nil
}

func (e *fakeEngine) StartRecording(id PlayerID, callID CallID, path string) error {
	e.record("record %d %d %s", id, callID, path)
	return nil
}

func (e *fakeEngine) StopRecording(id PlayerID) error {
	e.record("stoprecord %d", id)
	return nil
}

func (e *fakeEngine) SwitchActive(id CallID) error {
	e.record("switch %d", id)
	return nil
}

func (e *fakeEngine) MakeConference(ids []CallID) error {
	e.record("conference %v", ids)
	return nil
}

func (e *fakeEngine) EnumerateDevices(kind DeviceKind) ([]Device, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Device(nil), e.devices[kind]...), nil
}

func (e *fakeEngine) SelectDevice(kind DeviceKind, index int) error {
	e.record("select %s %d", kind, index)
	return nil
}

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type testEnv struct {
	m      *Module
	engine *fakeEngine
	events *ChanObserver
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	engine := newFakeEngine()
	obs := NewChanObserver(256)
	m := NewModule(engine, WithLogger(testLogger), WithObserver(obs))
	require.NoError(t, m.Initialize(context.Background(), IniConfig{License: "test"}))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.Shutdown(ctx)
	})
	return &testEnv{m: m, engine: engine, events: obs}
}

// waitEvent skips events until one of kind arrives
func (env *testEnv) waitEvent(t *testing.T, kind EventKind) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-env.events.C:
			if ev.Kind() == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("event %s not received", kind)
			return nil
		}
	}
}

// noEvent fails if event of kind arrives within d
func (env *testEnv) noEvent(t *testing.T, kind EventKind, d time.Duration) {
	t.Helper()
	timeout := time.After(d)
	for {
		select {
		case ev := <-env.events.C:
			if ev.Kind() == kind {
				t.Fatalf("unexpected event %s", ev)
			}
		case <-timeout:
			return
		}
	}
}

// registeredAccount adds account and completes registration
func (env *testEnv) registeredAccount(t *testing.T) AccountID {
	t.Helper()
	conf := DefaultAccountConfig()
	conf.SipServer = "sip.example.com"
	conf.Extension = "100"
	conf.Password = "x"
	id, err := env.m.AddAccount(conf)
	require.NoError(t, err)
	require.NoError(t, env.m.RegisterAccount(id, 300))
	env.m.OnRegistrationResult(id, RegSuccess, "200 OK")
	env.waitEvent(t, EventAccountRegState)
	return id
}

// connectedCall makes outbound call and drives it to Connected
func (env *testEnv) connectedCall(t *testing.T, accID AccountID) CallID {
	t.Helper()
	id, err := env.m.Invite(Destination{AccountID: accID, Extension: "200"})
	require.NoError(t, err)
	env.m.OnCallProceeding(id, "180 Ringing")
	env.m.OnCallConnected(id, "sip:100@sip.example.com", "sip:200@sip.example.com", false)
	env.waitEvent(t, EventCallConnected)
	return id
}

func (env *testEnv) callState(t *testing.T, id CallID) CallState {
	t.Helper()
	c, err := env.m.Call(id)
	require.NoError(t, err)
	return c.State
}
