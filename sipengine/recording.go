// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipengine

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/emiago/sipua"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog/log"
)

var errRecorderClosed = errors.New("recorder closed")

// wavRecorder writes decoded call audio into 8kHz 16 bit mono WAV file
type wavRecorder struct {
	id     sipua.PlayerID
	call   sipua.CallID
	media  *mediaSession
	events sipua.EngineEvents

	mu     sync.Mutex
	file   *os.File
	enc    *wav.Encoder
	buf    *audio.IntBuffer
	closed bool

	stopOnce sync.Once
	onStop   func()
}

func newWavRecorder(path string) (*wavRecorder, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	r := &wavRecorder{
		file: file,
		enc:  wav.NewEncoder(file, 8000, 16, 1, 1),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: 1, SampleRate: 8000},
			SourceBitDepth: 16,
		},
	}
	return r, nil
}

func (r *wavRecorder) callID() sipua.CallID { return r.call }

// writePCM appends 16 bit little endian samples
func (r *wavRecorder) writePCM(lpcm []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errRecorderClosed
	}

	data := r.buf.Data[:0]
	for i := 0; i+1 < len(lpcm); i += 2 {
		data = append(data, int(int16(uint16(lpcm[i])|uint16(lpcm[i+1])<<8)))
	}
	r.buf.Data = data
	return r.enc.Write(r.buf)
}

// close finalizes WAV header and closes file
func (r *wavRecorder) close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return errors.Join(r.enc.Close(), r.file.Close())
}

func (r *wavRecorder) stop() {
	r.stopOnce.Do(r.stopRecording)
}

func (r *wavRecorder) stopRecording() {
	if r.media != nil {
		r.media.setSink(nil)
	}
	err := r.close()
	if r.onStop != nil {
		r.onStop()
	}

	if err != nil {
		log.Error().Err(err).Uint64("player_id", uint64(r.id)).Msg("Failed to finalize recording")
		r.events.OnPlayerState(r.id, sipua.PlayerFailed)
		return
	}
	r.events.OnPlayerState(r.id, sipua.PlayerStopped)
}

func (e *Engine) StartRecording(id sipua.PlayerID, callID sipua.CallID, path string) error {
	l, err := e.establishedLeg(callID)
	if err != nil {
		return err
	}

	r, err := newWavRecorder(path)
	if err != nil {
		return fmt.Errorf("create recording: %w", err)
	}
	r.id = id
	r.call = callID
	r.media = l.media
	r.events = e.events
	r.onStop = func() { e.removePlayer(id) }

	e.mu.Lock()
	e.players[id] = r
	e.mu.Unlock()

	l.media.setSink(r)
	e.events.OnPlayerState(id, sipua.PlayerStarted)
	return nil
}

func (e *Engine) StopRecording(id sipua.PlayerID) error {
	e.mu.Lock()
	p, exists := e.players[id]
	e.mu.Unlock()
	if !exists {
		return fmt.Errorf("recorder %d does not exist", id)
	}
	if _, ok := p.(*wavRecorder); !ok {
		return fmt.Errorf("player %d is not recording", id)
	}
	p.stop()
	return nil
}
