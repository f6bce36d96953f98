// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipengine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/emiago/sipua"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/require"
)

// eventsRecorder implements sipua.EngineEvents and records reports as text
type eventsRecorder struct {
	ch     chan string
	nextID sipua.CallID
}

func newEventsRecorder() *eventsRecorder {
	return &eventsRecorder{ch: make(chan string, 100), nextID: 1}
}

func (r *eventsRecorder) record(format string, args ...any) {
	r.ch <- fmt.Sprintf(format, args...)
}

func (r *eventsRecorder) OnRegistrationResult(id sipua.AccountID, result sipua.RegResult, response string) {
	r.record("reg %d %s", id, result)
}
func (r *eventsRecorder) OnNetworkState(name string, state sipua.NetworkState) {
	r.record("network %s", name)
}
func (r *eventsRecorder) OnIncomingCall(accID sipua.AccountID, withVideo bool, from string, to string) sipua.CallID {
	r.record("incoming %d %s", accID, from)
	return r.nextID
}
func (r *eventsRecorder) OnCallReady(id sipua.CallID) {
	r.record("ready %d", id)
}
func (r *eventsRecorder) OnCallProceeding(id sipua.CallID, response string) {
	r.record("proceeding %d", id)
}
func (r *eventsRecorder) OnCallConnected(id sipua.CallID, from string, to string, withVideo bool) {
	r.record("connected %d", id)
}
func (r *eventsRecorder) OnCallTerminated(id sipua.CallID, statusCode int) {
	r.record("terminated %d %d", id, statusCode)
}
func (r *eventsRecorder) OnCallTransferred(id sipua.CallID, statusCode int) {
	r.record("transferred %d %d", id, statusCode)
}
func (r *eventsRecorder) OnCallRedirected(orig sipua.CallID, referTo string) sipua.CallID {
	r.record("redirected %d %s", orig, referTo)
	return 0
}
func (r *eventsRecorder) OnDtmfReceived(id sipua.CallID, tone uint16) {
	r.record("dtmf %d %d", id, tone)
}
func (r *eventsRecorder) OnCallHeld(id sipua.CallID, state sipua.HoldState) {
	r.record("held %d %s", id, state)
}
func (r *eventsRecorder) OnCallSwitched(id sipua.CallID) {
	r.record("switched %d", id)
}
func (r *eventsRecorder) OnPlayerState(id sipua.PlayerID, state sipua.PlayerState) {
	r.record("player %d %s", id, state)
}
func (r *eventsRecorder) OnRingerState(started bool) {
	r.record("ringer %t", started)
}
func (r *eventsRecorder) OnDevicesAudioChanged() {
	r.record("devices")
}
func (r *eventsRecorder) OnTrialModeNotified() {
	r.record("trial")
}

func (r *eventsRecorder) wait(t *testing.T) string {
	t.Helper()
	select {
	case ev := <-r.ch:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting engine event")
	}
	return ""
}

// newTestEngine returns engine with running context but without SIP transport
func newTestEngine(t *testing.T) (*Engine, *eventsRecorder) {
	conf := DefaultConfig()
	conf.RTPPortStart = 0
	conf.RTPPortEnd = 0
	e := New(conf, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	rec := newEventsRecorder()
	e.events = rec
	e.network = "udp"
	e.host = "127.0.0.1"
	e.port = 5060
	e.ctx, e.cancel = context.WithCancel(context.Background())
	t.Cleanup(func() {
		e.cancel()
		e.wg.Wait()
	})
	return e, rec
}

// answeredLeg registers call leg as if dialog was confirmed
func answeredLeg(t *testing.T, e *Engine, id sipua.CallID) *callLeg {
	l, err := e.newCallLeg(id, 1, sipua.AccountConfig{SipServer: "127.0.0.1", Extension: "100"}, false)
	require.NoError(t, err)
	l.answered = true
	t.Cleanup(l.close)
	return l
}

func writeTestWav(t *testing.T, path string, sampleRate int, samples []int) {
	f, err := os.Create(path)
	require.NoError(t, err)
	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
}
