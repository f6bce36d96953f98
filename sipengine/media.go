// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipengine

import (
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// audioSink receives decoded 16 bit PCM of remote audio
type audioSink interface {
	writePCM(lpcm []byte) error
}

// mediaSession is single audio RTP leg over UDP
type mediaSession struct {
	conn  *net.UDPConn
	laddr *net.UDPAddr
	log   zerolog.Logger

	mu      sync.Mutex
	raddr   *net.UDPAddr
	codec   Codec
	dtmfPT  uint8
	hasDTMF bool
	muted   bool
	onHold  bool
	sink    audioSink
	peers   []*mediaSession
	onDTMF  func(tone uint8)

	writeMu sync.Mutex
	seq     uint16
	ts      uint32
	ssrc    uint32

	closed atomic.Bool
	done   chan struct{}
}

var errNoRemote = errors.New("remote media address not set")

// newMediaSession binds UDP port from range on host. Only even ports are used.
func newMediaSession(host string, portStart int, portEnd int) (*mediaSession, error) {
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, fmt.Errorf("invalid media host %q", host)
	}

	var conn *net.UDPConn
	var err error
	if portStart <= 0 || portEnd <= portStart {
		conn, err = net.ListenUDP("udp", &net.UDPAddr{IP: ip})
	} else {
		start := portStart + rand.Intn(portEnd-portStart)
		for i := 0; i < portEnd-portStart; i += 2 {
			port := portStart + (start-portStart+i)%(portEnd-portStart)
			port &^= 1
			conn, err = net.ListenUDP("udp", &net.UDPAddr{IP: ip, Port: port})
			if err == nil {
				break
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("bind rtp port: %w", err)
	}

	laddr := conn.LocalAddr().(*net.UDPAddr)
	m := &mediaSession{
		conn:  conn,
		laddr: laddr,
		log:   log.With().Str("caller", "media").Int("port", laddr.Port).Logger(),
		codec: CodecUlaw,
		seq:   uint16(rand.Uint32()),
		ts:    rand.Uint32(),
		ssrc:  rand.Uint32(),
		done:  make(chan struct{}),
	}
	return m, nil
}

func (m *mediaSession) localSDP(dir Direction, codecs []Codec) ([]byte, error) {
	return generateSDP(m.laddr.IP, m.laddr.Port, codecs, dir)
}

// setRemote applies negotiated remote parameters. First offered codec wins.
func (m *mediaSession) setRemote(p sdpParams) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.raddr = p.Addr
	m.codec = p.Codecs[0]
	m.dtmfPT = p.DTMF
	m.hasDTMF = p.HasDTMF
}

func (m *mediaSession) currentCodec() Codec {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codec
}

func (m *mediaSession) setMuted(muted bool) {
	m.mu.Lock()
	m.muted = muted
	m.mu.Unlock()
}

func (m *mediaSession) setHold(hold bool) {
	m.mu.Lock()
	m.onHold = hold
	m.mu.Unlock()
}

func (m *mediaSession) setSink(s audioSink) {
	m.mu.Lock()
	m.sink = s
	m.mu.Unlock()
}

func (m *mediaSession) setPeers(peers []*mediaSession) {
	m.mu.Lock()
	m.peers = peers
	m.mu.Unlock()
}

// start reads remote RTP until session is closed
func (m *mediaSession) start(onDTMF func(tone uint8)) {
	m.mu.Lock()
	m.onDTMF = onDTMF
	m.mu.Unlock()
	go m.readLoop()
}

func (m *mediaSession) readLoop() {
	defer close(m.done)

	buf := make([]byte, 1500)
	detector := dtmfDetector{}
	for {
		n, _, err := m.conn.ReadFromUDP(buf)
		if err != nil {
			if !m.closed.Load() {
				m.log.Error().Err(err).Msg("RTP read failed")
			}
			return
		}

		pkt := rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			m.log.Debug().Err(err).Msg("Dropping non RTP packet")
			continue
		}

		m.mu.Lock()
		codec, dtmfPT, hasDTMF := m.codec, m.dtmfPT, m.hasDTMF
		sink, peers, onDTMF := m.sink, m.peers, m.onDTMF
		m.mu.Unlock()

		if hasDTMF && pkt.PayloadType == dtmfPT {
			ev := DTMFEvent{}
			if err := DTMFDecode(pkt.Payload, &ev); err != nil {
				m.log.Debug().Err(err).Msg("Failed to decode DTMF event")
				continue
			}
			if m.log.GetLevel() == zerolog.TraceLevel {
				m.log.Trace().Str("ev", ev.String()).Msg("Processing DTMF event")
			}
			if tone, ok := detector.process(pkt.Timestamp, ev); ok && onDTMF != nil {
				onDTMF(tone)
			}
			continue
		}
		if pkt.PayloadType != codec.PayloadType {
			continue
		}

		if sink != nil {
			if err := sink.writePCM(decodePCM(codec, pkt.Payload)); err != nil {
				m.log.Error().Err(err).Msg("Audio sink failed, detaching")
				m.setSink(nil)
			}
		}
		for _, p := range peers {
			if err := p.writeAudio(transcode(codec, p.currentCodec(), pkt.Payload)); err != nil && !errors.Is(err, errNoRemote) {
				m.log.Debug().Err(err).Msg("Conference forward failed")
			}
		}
	}
}

// writeAudio sends one encoded frame. Muted or held session only advances clock.
func (m *mediaSession) writeAudio(payload []byte) error {
	m.mu.Lock()
	raddr, codec, silent := m.raddr, m.codec, m.muted || m.onHold
	m.mu.Unlock()
	if raddr == nil {
		return errNoRemote
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if silent {
		m.ts += uint32(len(payload))
		return nil
	}
	err := m.writePacketUnsafe(raddr, codec.PayloadType, false, m.ts, payload)
	m.ts += uint32(len(payload))
	return err
}

// writeDTMF sends RFC 4733 events for tone paced in real time
func (m *mediaSession) writeDTMF(tone uint8, dur time.Duration) error {
	m.mu.Lock()
	raddr, pt, has := m.raddr, m.dtmfPT, m.hasDTMF
	m.mu.Unlock()
	if raddr == nil {
		return errNoRemote
	}
	if !has {
		pt = CodecTelephoneEvent.PayloadType
	}

	m.writeMu.Lock()
	ts := m.ts
	m.writeMu.Unlock()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for i, ev := range DTMFEncodeEvents(tone, dur) {
		m.writeMu.Lock()
		err := m.writePacketUnsafe(raddr, pt, i == 0, ts, DTMFEncode(ev))
		m.writeMu.Unlock()
		if err != nil {
			return err
		}
		if !ev.EndOfEvent {
			<-ticker.C
		}
	}

	m.writeMu.Lock()
	m.ts += uint32(dur / time.Millisecond * 8)
	m.writeMu.Unlock()
	return nil
}

func (m *mediaSession) writePacketUnsafe(raddr *net.UDPAddr, pt uint8, marker bool, ts uint32, payload []byte) error {
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    pt,
			SequenceNumber: m.seq,
			Timestamp:      ts,
			SSRC:           m.ssrc,
		},
		Payload: payload,
	}
	m.seq++

	data, err := pkt.Marshal()
	if err != nil {
		return err
	}
	_, err = m.conn.WriteToUDP(data, raddr)
	return err
}

// close sends RTCP BYE and stops reading
func (m *mediaSession) close() {
	if !m.closed.CompareAndSwap(false, true) {
		return
	}

	m.mu.Lock()
	raddr := m.raddr
	m.mu.Unlock()
	if raddr != nil {
		data, err := rtcp.Marshal([]rtcp.Packet{&rtcp.Goodbye{Sources: []uint32{m.ssrc}}})
		if err == nil {
			m.conn.WriteToUDP(data, &net.UDPAddr{IP: raddr.IP, Port: raddr.Port + 1})
		}
	}

	m.conn.Close()
}

// wait blocks until reader stopped. Only valid after start.
func (m *mediaSession) wait() {
	<-m.done
}
