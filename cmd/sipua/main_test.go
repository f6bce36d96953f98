// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emiago/sipua"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// consoleEngine implements only what console tests reach. Other calls panic.
type consoleEngine struct {
	sipua.Engine

	mu   sync.Mutex
	reqs []string
}

func (e *consoleEngine) record(r string) error {
	e.mu.Lock()
	e.reqs = append(e.reqs, r)
	e.mu.Unlock()
	return nil
}

func (e *consoleEngine) Start(ctx context.Context, events sipua.EngineEvents) error { return nil }
func (e *consoleEngine) Stop(ctx context.Context) error                             { return nil }
func (e *consoleEngine) SendRegister(id sipua.AccountID, acc sipua.AccountConfig, expire time.Duration) error {
	return e.record("register " + acc.AOR() + " " + expire.String())
}
func (e *consoleEngine) SendUnregister(id sipua.AccountID) error { return e.record("unregister") }
func (e *consoleEngine) EnumerateDevices(kind sipua.DeviceKind) ([]sipua.Device, error) {
	if kind != sipua.DevicePlayout {
		return nil, nil
	}
	return []sipua.Device{{Name: "Speakers", GUID: "p0"}, {Name: "Headset", GUID: "p1"}}, nil
}
func (e *consoleEngine) SelectDevice(kind sipua.DeviceKind, index int) error {
	return e.record("select " + kind.String())
}

func newTestConsole(t *testing.T, input string) (*console, *consoleEngine, *bytes.Buffer) {
	e := &consoleEngine{}
	m := sipua.NewModule(e, sipua.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, m.Initialize(context.Background(), sipua.IniConfig{License: "test"}))
	t.Cleanup(func() {
		m.Shutdown(context.Background())
	})

	out := &bytes.Buffer{}
	return newConsole(m, strings.NewReader(input), out, &sync.Mutex{}), e, out
}

func TestConsoleAccounts(t *testing.T) {
	c, e, out := newTestConsole(t, "A a example.com 1001 secret l r 1 600 d 7 - q")
	c.run()

	s := out.String()
	assert.Contains(t, s, " A  Accounts menu\n")
	assert.Contains(t, s, "Enter server domain name or IP address: Enter extension: Enter password: Account added. AccId:1\n")
	assert.Contains(t, s, "Register request sent. AccId:1\n")
	assert.Contains(t, s, "    -1- sip:1001@example.com TCP Registering\n")
	assert.Contains(t, s, "Can't delete account. Err: ")

	accs := c.m.Accounts()
	require.Len(t, accs, 1)
	assert.Equal(t, "secret", accs[0].Config.Password)
	assert.Equal(t, []string{
		"register sip:1001@example.com 5m0s",
		"register sip:1001@example.com 10m0s",
	}, e.reqs)
}

func TestConsoleSecureMedia(t *testing.T) {
	c, _, out := newTestConsole(t, "A a example.com 1001 secret s 1 2 s 1 7 q")
	c.run()

	assert.Contains(t, out.String(), "Account updated. AccId:1\n")
	assert.Contains(t, out.String(), "Can't update account. Err: ")
	acc, err := c.m.Account(1)
	require.NoError(t, err)
	assert.Equal(t, sipua.SecureMediaDtlsSrtp, acc.Config.SecureMedia)
}

func TestConsoleDevices(t *testing.T) {
	c, e, out := newTestConsole(t, "D p s p 1 s x 0 s p 5 - q")
	c.run()

	s := out.String()
	assert.Contains(t, s, "Detected 2 playout audio devices:\n    -0- Speakers [p0]\n    -1- Headset [p1]\n")
	assert.Contains(t, s, "Wrong device type.\n")
	assert.Contains(t, s, "Err: ")

	idx, ok := c.m.Devices().SelectedDevice(sipua.DevicePlayout)
	assert.True(t, ok)
	assert.Equal(t, 1, idx)
	assert.Equal(t, []string{"select playout"}, e.reqs)
}

func TestConsoleCalls(t *testing.T) {
	c, _, out := newTestConsole(t, "C e abc 5 i 9 100 n c l")
	c.run()

	s := out.String()
	assert.Contains(t, s, "Not a number: abc\n")
	assert.Contains(t, s, "Can't end call. Err: ")
	assert.Contains(t, s, "Can't initiate call. Err: ")
	assert.Contains(t, s, "Can't make conference. Err: ")
	assert.Contains(t, s, "Calls: 0\n")
}

func TestEventPrinter(t *testing.T) {
	out := &bytes.Buffer{}
	p := &eventPrinter{out: out, mu: &sync.Mutex{}}

	p.OnEvent(sipua.CallTerminatedEvent{CallID: 3, StatusCode: 486})
	p.OnEvent(sipua.TrialModeNotifiedEvent{})
	assert.Equal(t, "\n--- OnCallTerminated callId:3 statusCode:486\n\n--- SIPUA is working in TRIAL mode ---\n", out.String())
}

func TestEngineConfig(t *testing.T) {
	o, err := parseFlags([]string{"-bind", "10.0.0.1:5070", "-rtp-ports", "4000-5000", "-external", "1.2.3.4", "-transport", "TCP"})
	require.NoError(t, err)

	conf, err := engineConfig(o)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", conf.BindHost)
	assert.Equal(t, 5070, conf.BindPort)
	assert.Equal(t, "1.2.3.4", conf.MediaHost)
	assert.Equal(t, "1.2.3.4", conf.ExternalHost)
	assert.Equal(t, "tcp", conf.Transport)
	assert.Equal(t, 4000, conf.RTPPortStart)
	assert.Equal(t, 5000, conf.RTPPortEnd)

	_, err = parseFlags([]string{"-transport", "sctp"})
	assert.Error(t, err)

	for _, bad := range []options{
		{bind: "10.0.0.1", rtpPorts: "4000-5000"},
		{bind: "10.0.0.1:abc", rtpPorts: "4000-5000"},
		{bind: "10.0.0.1:5060", rtpPorts: "5000-4000"},
		{bind: "10.0.0.1:5060", rtpPorts: "ports"},
	} {
		_, err := engineConfig(bad)
		assert.Error(t, err, bad)
	}
}

func TestLevels(t *testing.T) {
	for _, tc := range []struct {
		lev  zerolog.Level
		slog slog.Level
		ua   sipua.LogLevel
	}{
		{zerolog.TraceLevel, slog.LevelDebug, sipua.LogDebug},
		{zerolog.DebugLevel, slog.LevelDebug, sipua.LogDebug},
		{zerolog.InfoLevel, slog.LevelInfo, sipua.LogInfo},
		{zerolog.WarnLevel, slog.LevelWarn, sipua.LogWarn},
		{zerolog.ErrorLevel, slog.LevelError, sipua.LogError},
		{zerolog.Disabled, slog.LevelError + 4, sipua.LogNone},
	} {
		s, ua := levels(tc.lev)
		assert.Equal(t, tc.slog, s, tc.lev.String())
		assert.Equal(t, tc.ua, ua, tc.lev.String())
	}
}

func TestSlogRedactsSecrets(t *testing.T) {
	out := &bytes.Buffer{}
	l := slog.New(newSlogHandler(out, slog.LevelInfo))
	l.Info("Account added", "password", "hunter2", "user", "1001")

	assert.NotContains(t, out.String(), "hunter2")
	assert.Contains(t, out.String(), "*****")
	assert.Contains(t, out.String(), "1001")
}
