// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipua

import (
	"fmt"
	"strings"
)

type PlayerState uint8

const (
	PlayerStarted PlayerState = iota
	PlayerStopped
	PlayerFailed
)

func (s PlayerState) String() string {
	switch s {
	case PlayerStarted:
		return "PlayerStarted"
	case PlayerStopped:
		return "PlayerStopped"
	}
	return "PlayerFailed"
}

type player struct {
	id        PlayerID
	callID    CallID
	recording bool
	path      string
	state     PlayerState
}

// RecordingPath is default file name for call recording
func RecordingPath(id CallID) string {
	return fmt.Sprintf("%d.wav", id)
}

func (m *Module) newPlayer(op string, callID CallID, path string, recording bool) (*player, error) {
	if err := m.checkRunning(op); err != nil {
		return nil, err
	}

	m.callMu.Lock()
	defer m.callMu.Unlock()
	c, err := m.lookupCallUnsafe(op, callID)
	if err != nil {
		return nil, err
	}
	if s := c.state(); s != CallStateConnected && s != CallStateHeld {
		return nil, newError(KindInvalidState, op, "call %d is %s", callID, s)
	}
	if recording && c.recorder != 0 {
		return nil, newError(KindInUse, op, "call %d is already recording with player %d", callID, c.recorder)
	}

	id := PlayerID(m.playerIDs.next())
	if id == 0 {
		return nil, newError(KindUnavailable, op, "player ids exhausted")
	}
	p := &player{id: id, callID: callID, recording: recording, path: path}
	m.players[id] = p
	if recording {
		c.recorder = id
	}
	return p, nil
}

// PlayFile streams audio file into call. Progress is reported with PlayerStateEvent.
func (m *Module) PlayFile(callID CallID, path string, loop bool) (PlayerID, error) {
	const op = "PlayFile"
	if strings.TrimSpace(path) == "" {
		return 0, newError(KindInvalidArgument, op, "empty file path")
	}

	p, err := m.newPlayer(op, callID, path, false)
	if err != nil {
		return 0, err
	}

	if err := m.engine.StartPlayback(p.id, callID, path, loop); err != nil {
		m.log.Error("Failed to start playback", "player_id", p.id, "error", err)
		m.OnPlayerState(p.id, PlayerFailed)
	}
	return p.id, nil
}

// StopPlayFile stops playback started with PlayFile
func (m *Module) StopPlayFile(id PlayerID) error {
	const op = "StopPlayFile"
	if err := m.checkRunning(op); err != nil {
		return err
	}

	m.callMu.Lock()
	p, exists := m.players[id]
	if !exists || p.recording {
		m.callMu.Unlock()
		return newError(KindNotFound, op, "player %d", id)
	}
	m.callMu.Unlock()

	if err := m.engine.StopPlayback(id); err != nil {
		m.log.Error("Failed to stop playback", "player_id", id, "error", err)
	}
	return nil
}

// RecordFile records call audio into WAV file. Empty path records into "<callID>.wav".
// Only one recording per call is allowed.
func (m *Module) RecordFile(callID CallID, path string) (PlayerID, error) {
	const op = "RecordFile"
	if strings.TrimSpace(path) == "" {
		path = RecordingPath(callID)
	}

	p, err := m.newPlayer(op, callID, path, true)
	if err != nil {
		return 0, err
	}

	if err := m.engine.StartRecording(p.id, callID, path); err != nil {
		m.log.Error("Failed to start recording", "player_id", p.id, "error", err)
		m.OnPlayerState(p.id, PlayerFailed)
	}
	return p.id, nil
}

// StopRecordFile stops recording of call
func (m *Module) StopRecordFile(callID CallID) error {
	const op = "StopRecordFile"
	if err := m.checkRunning(op); err != nil {
		return err
	}

	m.callMu.Lock()
	c, err := m.lookupCallUnsafe(op, callID)
	if err != nil {
		m.callMu.Unlock()
		return err
	}
	pid := c.recorder
	m.callMu.Unlock()
	if pid == 0 {
		return newError(KindNotFound, op, "call %d is not recording", callID)
	}

	if err := m.engine.StopRecording(pid); err != nil {
		m.log.Error("Failed to stop recording", "player_id", pid, "error", err)
	}
	return nil
}

func (m *Module) OnPlayerState(id PlayerID, state PlayerState) {
	var callID CallID
	m.callMu.Lock()
	if p, exists := m.players[id]; exists {
		callID = p.callID
		p.state = state
		if state != PlayerStarted {
			delete(m.players, id)
			if c, exists := m.calls[p.callID]; exists && c.recorder == id {
				c.recorder = 0
			}
		}
	}
	m.events.publish(PlayerStateEvent{PlayerID: id, CallID: callID, State: state})
	m.callMu.Unlock()
}
