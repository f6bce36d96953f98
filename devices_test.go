// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipua

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceCatalogSelect(t *testing.T) {
	env := newTestEnv(t)
	cat := env.m.Devices()

	_, ok := cat.SelectedDevice(DevicePlayout)
	assert.False(t, ok)

	// Not enumerated kind is enumerated on select
	require.NoError(t, cat.SelectDevice(DevicePlayout, 1))
	idx, ok := cat.SelectedDevice(DevicePlayout)
	assert.True(t, ok)
	assert.Equal(t, 1, idx)

	list, err := cat.Devices(DevicePlayout)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 1, list[1].Index)
	assert.Equal(t, "Headset", list[1].Name)

	assert.ErrorIs(t, cat.SelectDevice(DeviceRecording, 1), ErrInvalidArgument)
	assert.ErrorIs(t, cat.SelectDevice(DeviceRecording, -1), ErrInvalidArgument)
	assert.ErrorIs(t, cat.SelectDevice(DeviceVideo, 0), ErrInvalidArgument)
	assert.ErrorIs(t, cat.SelectDevice(DeviceKind(9), 0), ErrInvalidArgument)
	assert.Equal(t, []string{"select playout 1"}, filterRequests(env.engine.requests(), "select"))
}

func TestDeviceCatalogAudioChanged(t *testing.T) {
	env := newTestEnv(t)
	cat := env.m.Devices()

	require.NoError(t, cat.SelectDevice(DeviceRecording, 0))

	env.engine.mu.Lock()
	env.engine.devices[DeviceRecording] = append(env.engine.devices[DeviceRecording], Device{Name: "USB Mic"})
	env.engine.mu.Unlock()

	// Cached list still has one device
	assert.ErrorIs(t, cat.SelectDevice(DeviceRecording, 1), ErrInvalidArgument)

	env.m.OnDevicesAudioChanged()
	env.waitEvent(t, EventDevicesAudioChanged)
	require.NoError(t, cat.SelectDevice(DeviceRecording, 1))
}

func TestParseDeviceKind(t *testing.T) {
	k, err := ParseDeviceKind("r")
	require.NoError(t, err)
	assert.Equal(t, DeviceRecording, k)

	k, err = ParseDeviceKind("video")
	require.NoError(t, err)
	assert.Equal(t, DeviceVideo, k)

	_, err = ParseDeviceKind("x")
	assert.Error(t, err)
}
