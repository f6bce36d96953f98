// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipua

import (
	"fmt"
	"sync"
)

type DeviceKind uint8

const (
	DevicePlayout DeviceKind = iota
	DeviceRecording
	DeviceVideo
)

func (k DeviceKind) String() string {
	switch k {
	case DevicePlayout:
		return "playout"
	case DeviceRecording:
		return "recording"
	case DeviceVideo:
		return "video"
	}
	return fmt.Sprintf("DeviceKind(%d)", uint8(k))
}

func ParseDeviceKind(s string) (DeviceKind, error) {
	switch s {
	case "p", "playout":
		return DevicePlayout, nil
	case "r", "recording":
		return DeviceRecording, nil
	case "v", "video":
		return DeviceVideo, nil
	}
	return 0, fmt.Errorf("unknown device kind %q", s)
}

type Device struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	GUID  string `json:"guid"`
}

const numDeviceKinds = 3

// DeviceCatalog caches last device enumeration and keeps selected index per kind.
// It does no device I/O itself.
type DeviceCatalog struct {
	engine Engine
	// ready returns error when devices can not be used
	ready func(op string) error

	mu         sync.RWMutex
	lists      [numDeviceKinds][]Device
	enumerated [numDeviceKinds]bool
	selected   [numDeviceKinds]int
}

func newDeviceCatalog(e Engine, ready func(op string) error) *DeviceCatalog {
	c := &DeviceCatalog{engine: e, ready: ready}
	for i := range c.selected {
		c.selected[i] = -1
	}
	return c
}

// Devices enumerates devices of kind and caches result
func (c *DeviceCatalog) Devices(kind DeviceKind) ([]Device, error) {
	const op = "Devices"
	if err := c.ready(op); err != nil {
		return nil, err
	}
	if kind >= numDeviceKinds {
		return nil, newError(KindInvalidArgument, op, "unknown device kind %d", kind)
	}

	list, err := c.engine.EnumerateDevices(kind)
	if err != nil {
		return nil, newError(KindUnavailable, op, "%s", err)
	}
	for i := range list {
		list[i].Index = i
	}

	c.mu.Lock()
	c.lists[kind] = list
	c.enumerated[kind] = true
	if c.selected[kind] >= len(list) {
		c.selected[kind] = -1
	}
	c.mu.Unlock()

	out := make([]Device, len(list))
	copy(out, list)
	return out, nil
}

// SelectDevice selects device by index of last enumeration.
// Kind that was never enumerated is enumerated first.
func (c *DeviceCatalog) SelectDevice(kind DeviceKind, index int) error {
	const op = "SelectDevice"
	if err := c.ready(op); err != nil {
		return err
	}
	if kind >= numDeviceKinds {
		return newError(KindInvalidArgument, op, "unknown device kind %d", kind)
	}

	c.mu.RLock()
	enumerated := c.enumerated[kind]
	c.mu.RUnlock()
	if !enumerated {
		if _, err := c.Devices(kind); err != nil {
			return err
		}
	}

	c.mu.Lock()
	if index < 0 || index >= len(c.lists[kind]) {
		n := len(c.lists[kind])
		c.mu.Unlock()
		return newError(KindInvalidArgument, op, "%s device index %d out of range [0,%d)", kind, index, n)
	}
	c.selected[kind] = index
	c.mu.Unlock()

	if err := c.engine.SelectDevice(kind, index); err != nil {
		return newError(KindUnavailable, op, "%s", err)
	}
	return nil
}

// SelectedDevice returns selected index, false when nothing was selected
func (c *DeviceCatalog) SelectedDevice(kind DeviceKind) (int, bool) {
	if kind >= numDeviceKinds {
		return -1, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx := c.selected[kind]
	return idx, idx >= 0
}

// invalidateAudio drops cached audio lists after device change so next select enumerates again
func (c *DeviceCatalog) invalidateAudio() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range []DeviceKind{DevicePlayout, DeviceRecording} {
		c.enumerated[k] = false
	}
}
