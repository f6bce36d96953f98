// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipua

// Engine reports below re-validate call state under lock. A report for call that
// was meanwhile terminated or is not legal in current state changes nothing,
// but observer still receives it.

func (m *Module) OnIncomingCall(accID AccountID, withVideo bool, from string, to string) CallID {
	if m.checkRunning("OnIncomingCall") != nil {
		return 0
	}

	m.accMu.Lock()
	if _, exists := m.accounts[accID]; !exists {
		m.accMu.Unlock()
		m.log.Info("Incoming call for unknown account", "acc_id", accID, "from", from)
		return 0
	}

	id := CallID(m.callIDs.next())
	if id == 0 {
		m.accMu.Unlock()
		return 0
	}
	m.callMu.Lock()
	c := m.newCallUnsafe(id, accID, DirectionInbound, CallStateIncoming)
	c.withVideo = withVideo
	c.remote = from
	c.from = from
	c.to = to
	c.announce = CallIncomingEvent{
		CallID:    id,
		AccountID: accID,
		WithVideo: withVideo,
		From:      from,
		To:        to,
	}
	m.callMu.Unlock()
	m.accMu.Unlock()
	return id
}

// OnCallReady publishes announcement held back since call registration.
// Engine has its leg in place, so commands issued by observer reach it.
func (m *Module) OnCallReady(id CallID) {
	m.callMu.Lock()
	defer m.callMu.Unlock()
	c, exists := m.calls[id]
	if !exists || c.announce == nil {
		m.log.Debug("Nothing to announce for call", "call_id", id)
		return
	}
	m.events.publish(c.announce)
	c.announce = nil
}

func (m *Module) OnCallProceeding(id CallID, response string) {
	m.callMu.Lock()
	if c, exists := m.calls[id]; exists && c.can(evProceed) {
		if err := c.fire(evProceed); err != nil {
			m.log.Debug("Proceeding not applied", "error", err)
		}
	}
	m.events.publish(CallProceedingEvent{CallID: id, Response: response})
	m.callMu.Unlock()
}

func (m *Module) OnCallConnected(id CallID, from string, to string, withVideo bool) {
	m.callMu.Lock()
	if c, exists := m.calls[id]; exists {
		if c.state() == CallStateInitiating {
			// Engine skipped provisional response, pass through Proceeding
			_ = c.fire(evProceed)
		}
		if c.can(evConnect) {
			if err := c.fire(evConnect); err != nil {
				m.log.Debug("Connected not applied", "error", err)
			}
			c.withVideo = withVideo
			if from != "" {
				c.from = from
			}
			if to != "" {
				c.to = to
			}
		} else {
			m.log.Debug("Connected ignored", "call_id", id, "state", c.state().String())
		}
	}
	m.events.publish(CallConnectedEvent{CallID: id, From: from, To: to, WithVideo: withVideo})
	m.callMu.Unlock()
}

func (m *Module) OnCallTerminated(id CallID, statusCode int) {
	m.callMu.Lock()
	if c, exists := m.calls[id]; exists {
		m.terminateUnsafe(c)
	}
	m.events.publish(CallTerminatedEvent{CallID: id, StatusCode: statusCode})
	m.callMu.Unlock()
}

func (m *Module) OnCallTransferred(id CallID, statusCode int) {
	m.events.publish(CallTransferredEvent{CallID: id, StatusCode: statusCode})
}

func (m *Module) OnCallRedirected(orig CallID, referTo string) CallID {
	if m.checkRunning("OnCallRedirected") != nil {
		return 0
	}

	m.accMu.Lock()
	m.callMu.Lock()
	c, exists := m.calls[orig]
	if !exists || c.state().IsTerminal() {
		m.callMu.Unlock()
		m.accMu.Unlock()
		m.log.Info("Redirect for unknown call", "call_id", orig)
		return 0
	}
	if _, exists := m.accounts[c.accID]; !exists {
		m.callMu.Unlock()
		m.accMu.Unlock()
		return 0
	}

	id := CallID(m.callIDs.next())
	if id == 0 {
		m.callMu.Unlock()
		m.accMu.Unlock()
		return 0
	}
	related := m.newCallUnsafe(id, c.accID, DirectionOutbound, CallStateInitiating)
	related.withVideo = c.withVideo
	related.remote = referTo
	related.to = referTo
	if c.dir == DirectionInbound {
		related.from = c.to
	} else {
		related.from = c.from
	}
	related.announce = CallRedirectedEvent{OrigCallID: orig, RelatedCallID: id, ReferTo: referTo}
	m.callMu.Unlock()
	m.accMu.Unlock()
	return id
}

func (m *Module) OnDtmfReceived(id CallID, tone uint16) {
	digit, ok := ToneDigit(tone)
	if !ok {
		m.log.Debug("Unknown DTMF tone received", "call_id", id, "tone", tone)
		return
	}
	m.events.publish(CallDtmfReceivedEvent{CallID: id, Tone: tone, Digit: digit})
}

func (m *Module) OnCallHeld(id CallID, state HoldState) {
	m.callMu.Lock()
	if c, exists := m.calls[id]; exists && !c.state().IsTerminal() {
		switch {
		case state != HoldNone && c.can(evHold):
			_ = c.fire(evHold)
			c.hold = state
		case state == HoldNone && c.can(evUnhold):
			_ = c.fire(evUnhold)
			c.hold = state
		case c.state() == CallStateHeld:
			c.hold = state
		}
	}
	m.events.publish(CallHeldEvent{CallID: id, Hold: state})
	m.callMu.Unlock()
}

func (m *Module) OnCallSwitched(id CallID) {
	m.callMu.Lock()
	if c, exists := m.calls[id]; exists && !c.state().IsTerminal() {
		m.activeCall = id
	}
	m.events.publish(CallSwitchedEvent{CallID: id})
	m.callMu.Unlock()
}

func (m *Module) OnNetworkState(name string, state NetworkState) {
	m.events.publish(NetworkStateEvent{Name: name, State: state})
}

func (m *Module) OnRingerState(started bool) {
	m.events.publish(RingerStateEvent{Started: started})
}

func (m *Module) OnDevicesAudioChanged() {
	m.devices.invalidateAudio()
	m.events.publish(DevicesAudioChangedEvent{})
}

func (m *Module) OnTrialModeNotified() {
	m.events.publish(TrialModeNotifiedEvent{})
}
