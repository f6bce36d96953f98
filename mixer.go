// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipua

import "sort"

// SwitchToCall makes call the one that receives local audio. At most one call is active.
func (m *Module) SwitchToCall(id CallID) error {
	const op = "SwitchToCall"
	if err := m.checkRunning(op); err != nil {
		return err
	}

	m.callMu.Lock()
	c, err := m.lookupCallUnsafe(op, id)
	if err != nil {
		m.callMu.Unlock()
		return err
	}
	if s := c.state(); s != CallStateConnected {
		m.callMu.Unlock()
		return newError(KindInvalidState, op, "call %d is %s", id, s)
	}
	m.activeCall = id
	m.callMu.Unlock()

	if err := m.engine.SwitchActive(id); err != nil {
		m.log.Error("Failed to switch call", "call_id", id, "error", err)
	}
	return nil
}

// ActiveCall returns call receiving local audio, zero if none
func (m *Module) ActiveCall() CallID {
	m.callMu.Lock()
	defer m.callMu.Unlock()
	return m.activeCall
}

// MakeConference mixes all connected calls together. It needs at least two connected calls.
func (m *Module) MakeConference() error {
	const op = "MakeConference"
	if err := m.checkRunning(op); err != nil {
		return err
	}

	m.callMu.Lock()
	ids := make([]CallID, 0, len(m.calls))
	for id, c := range m.calls {
		if c.state() == CallStateConnected {
			ids = append(ids, id)
		}
	}
	if len(ids) < 2 {
		m.callMu.Unlock()
		return newError(KindInvalidState, op, "need at least 2 connected calls, have %d", len(ids))
	}
	for _, id := range ids {
		m.calls[id].conference = true
	}
	m.callMu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if err := m.engine.MakeConference(ids); err != nil {
		m.log.Error("Failed to make conference", "calls", ids, "error", err)
	}
	return nil
}
