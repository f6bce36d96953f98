// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipua

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMixerSwitchCall(t *testing.T) {
	env := newTestEnv(t)
	accID := env.registeredAccount(t)
	first := env.connectedCall(t, accID)
	second := env.connectedCall(t, accID)

	require.NoError(t, env.m.SwitchToCall(second))
	assert.Equal(t, second, env.m.ActiveCall())
	c, _ := env.m.Call(second)
	assert.True(t, c.Active)

	require.NoError(t, env.m.SwitchToCall(first))
	assert.Equal(t, first, env.m.ActiveCall())

	require.NoError(t, env.m.Hold(second))
	assert.ErrorIs(t, env.m.SwitchToCall(second), ErrInvalidState)

	require.NoError(t, env.m.Bye(first))
	assert.Zero(t, env.m.ActiveCall())

	env.m.OnCallSwitched(second)
	env.waitEvent(t, EventCallSwitched)
	assert.Equal(t, second, env.m.ActiveCall())
}

func TestMixerConference(t *testing.T) {
	env := newTestEnv(t)
	accID := env.registeredAccount(t)
	first := env.connectedCall(t, accID)

	assert.ErrorIs(t, env.m.MakeConference(), ErrInvalidState)

	second := env.connectedCall(t, accID)
	_, err := env.m.Invite(Destination{AccountID: accID, Extension: "300"})
	require.NoError(t, err)

	require.NoError(t, env.m.MakeConference())
	assert.Contains(t, env.engine.requests(), "conference [1 2]")

	for _, id := range []CallID{first, second} {
		c, _ := env.m.Call(id)
		assert.True(t, c.Conference)
	}
}
