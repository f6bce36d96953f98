// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipengine

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emiago/sipua"
)

// DTMFEvent is RFC 4733 telephone event payload
type DTMFEvent struct {
	Event      uint8
	EndOfEvent bool
	Volume     uint8
	Duration   uint16
}

func (ev DTMFEvent) String() string {
	return fmt.Sprintf("event=%d end=%t volume=%d duration=%d", ev.Event, ev.EndOfEvent, ev.Volume, ev.Duration)
}

// samplesPerPacket is 20ms at 8kHz
const samplesPerPacket = 160

// DTMFEncodeEvents creates event series for tone lasting dur.
// Tone is followed by 3 redundant end events that must keep same duration.
func DTMFEncodeEvents(tone uint8, dur time.Duration) []DTMFEvent {
	steps := int(dur / (20 * time.Millisecond))
	if steps < 1 {
		steps = 1
	}

	events := make([]DTMFEvent, 0, steps+3)
	for i := 1; i < steps; i++ {
		events = append(events, DTMFEvent{
			Event:    tone,
			Volume:   10,
			Duration: uint16(samplesPerPacket * i),
		})
	}
	for i := 0; i < 3; i++ {
		events = append(events, DTMFEvent{
			Event:      tone,
			EndOfEvent: true,
			Volume:     10,
			Duration:   uint16(samplesPerPacket * steps),
		})
	}
	return events
}

func DTMFDecode(payload []byte, d *DTMFEvent) error {
	if len(payload) < 4 {
		return fmt.Errorf("payload too short")
	}

	d.Event = payload[0]
	d.EndOfEvent = payload[1]&0x80 != 0
	d.Volume = payload[1] & 0x3F
	d.Duration = binary.BigEndian.Uint16(payload[2:4])
	return nil
}

func DTMFEncode(d DTMFEvent) []byte {
	header := make([]byte, 4)
	header[0] = d.Event

	if d.EndOfEvent {
		header[1] = 0x80
	}
	header[1] |= d.Volume & 0x3F
	binary.BigEndian.PutUint16(header[2:4], d.Duration)
	return header
}

// dtmfDetector turns event stream into single tones. Tone is reported on first end event.
type dtmfDetector struct {
	lastEv   DTMFEvent
	lastTS   uint32
	reported bool
}

// process returns tone once per event, identified by RTP timestamp
func (d *dtmfDetector) process(ts uint32, ev DTMFEvent) (uint8, bool) {
	if ts != d.lastTS {
		d.lastTS = ts
		d.reported = false
		d.lastEv = DTMFEvent{}
	}
	if d.reported {
		return 0, false
	}

	if ev.EndOfEvent {
		if ev.Duration < 2*samplesPerPacket/4 {
			// Shorter than 10ms is noise
			return 0, false
		}
		d.reported = true
		return ev.Event, true
	}
	d.lastEv = ev
	return 0, false
}

// formatDTMFInfo creates application/dtmf-relay body
func formatDTMFInfo(tone rune, dur time.Duration) []byte {
	return []byte(fmt.Sprintf("Signal=%c\r\nDuration=%d\r\n", tone, dur.Milliseconds()))
}

// parseDTMFInfo reads Signal of application/dtmf-relay body
func parseDTMFInfo(body []byte) (uint16, error) {
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		key, val, ok := strings.Cut(scanner.Text(), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "Signal") {
			continue
		}
		val = strings.TrimSpace(val)
		if len(val) == 1 {
			if tone, ok := sipua.DigitTone(rune(val[0])); ok {
				return tone, nil
			}
		}
		// Some agents send event numbers
		n, err := strconv.Atoi(val)
		if err != nil || n < 0 || n > 15 {
			return 0, fmt.Errorf("invalid dtmf signal %q", val)
		}
		return uint16(n), nil
	}
	return 0, fmt.Errorf("no Signal in dtmf body")
}
