// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipengine

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/emiago/sipua"
	"github.com/go-audio/riff"
	"github.com/rs/zerolog/log"
)

// mediaPlayer is running playback or recording bound to call
type mediaPlayer interface {
	callID() sipua.CallID
	stop()
}

// wavReader reads PCM of RIFF WAV stream
type wavReader struct {
	riff.Parser
	chunkData *riff.Chunk
	data      io.Reader
	DataSize  int
}

func newWavReader(r io.Reader) *wavReader {
	parser := riff.New(r)
	return &wavReader{Parser: *parser}
}

// ReadHeaders reads until data chunk
func (r *wavReader) ReadHeaders() error {
	if err := r.Parser.ParseHeaders(); err != nil {
		return err
	}
	for {
		chunk, err := r.NextChunk()
		if err != nil {
			return err
		}
		if chunk.ID != riff.FmtID {
			chunk.Drain()
			continue
		}
		if err := chunk.DecodeWavHeader(&r.Parser); err != nil {
			return err
		}
		break
	}

	for {
		chunk, err := r.NextChunk()
		if err != nil {
			return err
		}
		if chunk.ID != riff.DataFormatID {
			chunk.Drain()
			continue
		}
		r.chunkData = chunk
		r.DataSize = chunk.Size
		// Chunk reader is not bounded by chunk size
		r.data = io.LimitReader(chunk, int64(chunk.Size))
		return nil
	}
}

func (r *wavReader) Read(buf []byte) (int, error) {
	if r.data == nil {
		return 0, fmt.Errorf("wav data chunk not read")
	}
	return r.data.Read(buf)
}

// checkFormat accepts only 8kHz 16 bit mono PCM
func (r *wavReader) checkFormat() error {
	if r.WavAudioFormat != 1 {
		return fmt.Errorf("wav audio format %d is not PCM", r.WavAudioFormat)
	}
	if r.BitsPerSample != 16 {
		return fmt.Errorf("received bitdepth=%d, but only 16 bit PCM supported", r.BitsPerSample)
	}
	if r.SampleRate != 8000 {
		return fmt.Errorf("sample rate %d not supported, only 8000", r.SampleRate)
	}
	if r.NumChannels != 1 {
		return fmt.Errorf("only mono wav supported, got %d channels", r.NumChannels)
	}
	return nil
}

// frameWriter takes one 20ms encoded audio frame
type frameWriter interface {
	writeAudio(payload []byte) error
}

// streamWav encodes PCM from body into 20ms frames paced in real time.
// It returns number of PCM bytes streamed.
func streamWav(body io.Reader, codec func() Codec, w frameWriter, stop <-chan struct{}) (int, error) {
	dec := newWavReader(body)
	if err := dec.ReadHeaders(); err != nil {
		return 0, fmt.Errorf("read wav headers: %w", err)
	}
	if err := dec.checkFormat(); err != nil {
		return 0, err
	}

	// 20ms of 16 bit 8kHz
	buf := make([]byte, 2*samplesPerPacket)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	total := 0
	for {
		n, err := io.ReadFull(dec, buf)
		if n > 0 {
			select {
			case <-stop:
				return total, nil
			case <-ticker.C:
			}

			frame := buf[:n]
			if n < len(buf) {
				// Pad last frame with silence
				frame = append(frame, make([]byte, len(buf)-n)...)
			}
			if werr := w.writeAudio(encodePCM(codec(), frame)); werr != nil && !errors.Is(werr, errNoRemote) {
				return total, werr
			}
			total += n
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return total, nil
			}
			return total, err
		}
	}
}

// filePlayer streams WAV file into call media
type filePlayer struct {
	id     sipua.PlayerID
	call   sipua.CallID
	path   string
	loop   bool
	media  *mediaSession
	events sipua.EngineEvents

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

func (p *filePlayer) callID() sipua.CallID { return p.call }

func (p *filePlayer) stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	<-p.done
}

func (p *filePlayer) stopped() bool {
	select {
	case <-p.stopCh:
		return true
	default:
		return false
	}
}

// run plays file until end or stop. Player is removed before final state is reported.
func (p *filePlayer) run(onDone func()) {
	defer close(p.done)

	plog := log.With().Str("caller", "playback").Uint64("player_id", uint64(p.id)).Logger()
	p.events.OnPlayerState(p.id, sipua.PlayerStarted)
	state := sipua.PlayerStopped
	for {
		written, err := p.playOnce()
		if err != nil {
			plog.Error().Err(err).Str("path", p.path).Msg("Playback failed")
			state = sipua.PlayerFailed
			break
		}
		plog.Debug().Int("written", written).Msg("Playback finished")
		if !p.loop || p.stopped() || written == 0 {
			break
		}
	}
	onDone()
	p.events.OnPlayerState(p.id, state)
}

func (p *filePlayer) playOnce() (int, error) {
	file, err := os.Open(p.path)
	if err != nil {
		return 0, err
	}
	defer file.Close()
	return streamWav(file, p.media.currentCodec, p.media, p.stopCh)
}

func (e *Engine) StartPlayback(id sipua.PlayerID, callID sipua.CallID, path string, loop bool) error {
	l, err := e.establishedLeg(callID)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("playback file: %w", err)
	}

	p := &filePlayer{
		id:     id,
		call:   callID,
		path:   path,
		loop:   loop,
		media:  l.media,
		events: e.events,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	e.mu.Lock()
	e.players[id] = p
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		p.run(func() { e.removePlayer(id) })
	}()
	return nil
}

func (e *Engine) StopPlayback(id sipua.PlayerID) error {
	e.mu.Lock()
	p, exists := e.players[id]
	e.mu.Unlock()
	if !exists {
		return fmt.Errorf("player %d does not exist", id)
	}
	if _, ok := p.(*filePlayer); !ok {
		return fmt.Errorf("player %d is not playback", id)
	}
	p.stop()
	return nil
}

func (e *Engine) removePlayer(id sipua.PlayerID) {
	e.mu.Lock()
	delete(e.players, id)
	e.mu.Unlock()
}

// stopPlayers stops playback and recording of call
func (e *Engine) stopPlayers(callID sipua.CallID) {
	e.mu.Lock()
	var players []mediaPlayer
	for _, p := range e.players {
		if p.callID() == callID {
			players = append(players, p)
		}
	}
	e.mu.Unlock()

	for _, p := range players {
		p.stop()
	}
}
