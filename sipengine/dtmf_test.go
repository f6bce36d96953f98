// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDTMFEncodeEvents(t *testing.T) {
	events := DTMFEncodeEvents(5, 100*time.Millisecond)
	require.Len(t, events, 4+3)

	for i, ev := range events[:4] {
		assert.False(t, ev.EndOfEvent)
		assert.Equal(t, uint16(160*(i+1)), ev.Duration)
	}
	for _, ev := range events[4:] {
		assert.True(t, ev.EndOfEvent)
		assert.Equal(t, uint16(800), ev.Duration)
		assert.Equal(t, uint8(5), ev.Event)
	}

	// Shorter than one packet still produces end events
	events = DTMFEncodeEvents(1, 5*time.Millisecond)
	require.Len(t, events, 3)
	assert.Equal(t, uint16(160), events[0].Duration)
}

func TestDTMFEncodeDecode(t *testing.T) {
	ev := DTMFEvent{Event: 11, EndOfEvent: true, Volume: 10, Duration: 1280}
	payload := DTMFEncode(ev)
	assert.Equal(t, []byte{11, 0x8A, 0x05, 0x00}, payload)

	decoded := DTMFEvent{}
	require.NoError(t, DTMFDecode(payload, &decoded))
	assert.Equal(t, ev, decoded)

	require.Error(t, DTMFDecode([]byte{1, 2}, &decoded))
}

func TestDTMFDetector(t *testing.T) {
	d := dtmfDetector{}
	feed := func(ts uint32, events []DTMFEvent) []uint8 {
		var tones []uint8
		for _, ev := range events {
			if tone, ok := d.process(ts, ev); ok {
				tones = append(tones, tone)
			}
		}
		return tones
	}

	assert.Equal(t, []uint8{7}, feed(1000, DTMFEncodeEvents(7, 100*time.Millisecond)))
	// Same tone pressed again has new timestamp
	assert.Equal(t, []uint8{7}, feed(3000, DTMFEncodeEvents(7, 60*time.Millisecond)))
	// Retransmitted end events of already reported tone
	assert.Empty(t, feed(3000, DTMFEncodeEvents(7, 60*time.Millisecond)))
	// Too short end event is noise
	assert.Empty(t, feed(5000, []DTMFEvent{{Event: 3, EndOfEvent: true, Duration: 40}}))
}

func TestDTMFInfo(t *testing.T) {
	body := formatDTMFInfo('#', 250*time.Millisecond)
	assert.Equal(t, "Signal=#\r\nDuration=250\r\n", string(body))

	tests := []struct {
		body     string
		expected uint16
		fails    bool
	}{
		{body: "Signal=5\r\nDuration=160\r\n", expected: 5},
		{body: "Signal=*\r\nDuration=160\r\n", expected: 10},
		{body: "signal = #\nDuration=100", expected: 11},
		{body: "Signal=A\r\n", expected: 12},
		{body: "Signal=15\r\n", expected: 15},
		{body: "Signal=16\r\n", fails: true},
		{body: "Signal=x\r\n", fails: true},
		{body: "Duration=100\r\n", fails: true},
	}
	for _, tc := range tests {
		tone, err := parseDTMFInfo([]byte(tc.body))
		if tc.fails {
			assert.Error(t, err, tc.body)
			continue
		}
		require.NoError(t, err, tc.body)
		assert.Equal(t, tc.expected, tone, tc.body)
	}
}
