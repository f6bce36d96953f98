// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipua

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDtmfToneDigit(t *testing.T) {
	for tone, digit := range map[uint16]rune{0: '0', 9: '9', 10: '*', 11: '#', 12: 'A', 15: 'D'} {
		r, ok := ToneDigit(tone)
		require.True(t, ok)
		assert.Equal(t, digit, r)

		back, ok := DigitTone(r)
		require.True(t, ok)
		assert.Equal(t, tone, back)
	}

	_, ok := ToneDigit(16)
	assert.False(t, ok)

	tone, ok := DigitTone('c')
	require.True(t, ok)
	assert.EqualValues(t, 14, tone)

	_, ok = DigitTone('x')
	assert.False(t, ok)
}

func TestValidDtmf(t *testing.T) {
	assert.True(t, ValidDtmf("0123456789*#ABCDabcd"))
	assert.False(t, ValidDtmf("12e"))
	assert.False(t, ValidDtmf("1 2"))
}

func TestDtmfReceivedEvent(t *testing.T) {
	env := newTestEnv(t)
	accID := env.registeredAccount(t)
	callID := env.connectedCall(t, accID)

	env.m.OnDtmfReceived(callID, 10)
	ev := env.waitEvent(t, EventCallDtmfReceived).(CallDtmfReceivedEvent)
	assert.Equal(t, '*', ev.Digit)
	assert.Equal(t, callID, ev.CallID)

	env.m.OnDtmfReceived(callID, 11)
	ev = env.waitEvent(t, EventCallDtmfReceived).(CallDtmfReceivedEvent)
	assert.Equal(t, '#', ev.Digit)
	assert.Contains(t, ev.String(), "tone:#")
}
