// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipua

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/looplab/fsm"
)

type Direction uint8

const (
	DirectionOutbound Direction = iota
	DirectionInbound
)

func (d Direction) String() string {
	if d == DirectionInbound {
		return "inbound"
	}
	return "outbound"
}

// HoldState is bit set of local and remote hold
type HoldState uint8

const (
	HoldNone           HoldState = 0
	HoldLocal          HoldState = 1
	HoldRemote         HoldState = 2
	HoldLocalAndRemote HoldState = HoldLocal | HoldRemote
)

func (h HoldState) String() string {
	switch h {
	case HoldNone:
		return "None"
	case HoldLocal:
		return "Local"
	case HoldRemote:
		return "Remote"
	case HoldLocalAndRemote:
		return "LocalAndRemote"
	}
	return fmt.Sprintf("HoldState(%d)", uint8(h))
}

type DtmfMethod uint8

const (
	DtmfRTP DtmfMethod = iota
	DtmfInfo
)

func (m DtmfMethod) String() string {
	if m == DtmfInfo {
		return "INFO"
	}
	return "RTP"
}

type MuteKind uint8

const (
	MuteMic MuteKind = iota
	MuteCam
)

const (
	DefaultDtmfDuration = 200 * time.Millisecond
	DefaultDtmfGap      = 50 * time.Millisecond

	minDtmfDuration = 40 * time.Millisecond
	maxDtmfDuration = 5 * time.Second

	// StatusBusyHere is default reject code
	StatusBusyHere = 486

	maxTombstones = 128
)

// Destination describes outbound call
type Destination struct {
	AccountID AccountID
	// Extension is dialed user or full SIP URI
	Extension string
	WithVideo bool
	// Headers are extra X- headers added to INVITE
	Headers map[string]string
}

// Call is snapshot of call state
type Call struct {
	ID         CallID
	AccountID  AccountID
	Direction  Direction
	WithVideo  bool
	Remote     string
	From       string
	To         string
	State      CallState
	Hold       HoldState
	MicMuted   bool
	CamMuted   bool
	Active     bool
	Conference bool
	Recording  PlayerID
	CreatedAt  time.Time
}

type call struct {
	id        CallID
	accID     AccountID
	dir       Direction
	withVideo bool
	remote    string
	from      string
	to        string
	fsm       *fsm.FSM

	// announce is published once engine reports call ready
	announce Event

	hold       HoldState
	micMuted   bool
	camMuted   bool
	conference bool
	recorder   PlayerID
	createdAt  time.Time
}

func (c *call) snapshot(active CallID) Call {
	return Call{
		ID:         c.id,
		AccountID:  c.accID,
		Direction:  c.dir,
		WithVideo:  c.withVideo,
		Remote:     c.remote,
		From:       c.from,
		To:         c.to,
		State:      c.state(),
		Hold:       c.hold,
		MicMuted:   c.micMuted,
		CamMuted:   c.camMuted,
		Active:     active == c.id,
		Conference: c.conference,
		Recording:  c.recorder,
		CreatedAt:  c.createdAt,
	}
}

// newCallUnsafe creates and stores call. Caller holds callMu.
func (m *Module) newCallUnsafe(id CallID, accID AccountID, dir Direction, initial CallState) *call {
	c := &call{
		id:        id,
		accID:     accID,
		dir:       dir,
		fsm:       newCallFSM(initial),
		createdAt: time.Now(),
	}
	m.calls[id] = c
	m.metrics.callCreated(dir)
	return c
}

// terminateUnsafe moves call to Terminated and keeps it as tombstone so late events
// and commands can still see its final state. Caller holds callMu.
func (m *Module) terminateUnsafe(c *call) {
	if c.state().IsTerminal() {
		return
	}
	if err := c.fire(evTerminate); err != nil {
		m.log.Error("Failed to terminate call", "error", err)
		return
	}
	m.metrics.callTerminated()

	if m.activeCall == c.id {
		m.activeCall = 0
	}
	for pid, p := range m.players {
		if p.callID == c.id {
			delete(m.players, pid)
		}
	}
	c.recorder = 0
	c.conference = false

	m.tombstones = append(m.tombstones, c.id)
	if len(m.tombstones) > maxTombstones {
		old := m.tombstones[0]
		m.tombstones = m.tombstones[1:]
		delete(m.calls, old)
	}
}

// lookupCallUnsafe returns call or NotFound error. Caller holds callMu.
func (m *Module) lookupCallUnsafe(op string, id CallID) (*call, error) {
	c, exists := m.calls[id]
	if !exists {
		return nil, newError(KindNotFound, op, "call %d", id)
	}
	return c, nil
}

func (m *Module) accountInUseUnsafe(id AccountID) bool {
	for _, c := range m.calls {
		if c.accID == id && !c.state().IsTerminal() {
			return true
		}
	}
	return false
}

// failCall terminates call after engine refused to start request on it.
func (m *Module) failCall(id CallID, err error) {
	m.log.Error("Engine request failed, terminating call", "call_id", id, "error", err)
	m.callMu.Lock()
	c, exists := m.calls[id]
	if !exists || c.state().IsTerminal() {
		m.callMu.Unlock()
		return
	}
	m.terminateUnsafe(c)
	m.events.publish(CallTerminatedEvent{CallID: id, Reason: err.Error()})
	m.callMu.Unlock()
}

// Invite starts outbound call. Returned id is provisional, progress arrives as events.
func (m *Module) Invite(dest Destination) (CallID, error) {
	const op = "Invite"
	if err := m.checkRunning(op); err != nil {
		return 0, err
	}
	if strings.TrimSpace(dest.Extension) == "" {
		return 0, newError(KindInvalidArgument, op, "empty destination")
	}

	m.accMu.Lock()
	a, exists := m.accounts[dest.AccountID]
	if !exists {
		m.accMu.Unlock()
		return 0, newError(KindNotFound, op, "account %d", dest.AccountID)
	}
	if a.state != RegStateRegistered {
		m.accMu.Unlock()
		return 0, newError(KindNotFound, op, "account %d is not registered", dest.AccountID)
	}
	conf := a.conf

	id := CallID(m.callIDs.next())
	if id == 0 {
		m.accMu.Unlock()
		return 0, newError(KindUnavailable, op, "call ids exhausted")
	}

	m.callMu.Lock()
	c := m.newCallUnsafe(id, dest.AccountID, DirectionOutbound, CallStateInitiating)
	c.withVideo = dest.WithVideo
	c.remote = dest.Extension
	c.from = conf.AOR()
	c.to = dest.Extension
	m.callMu.Unlock()
	m.accMu.Unlock()

	m.log.Info("Starting call", "call_id", id, "acc_id", dest.AccountID, "dest", dest.Extension)
	if err := m.engine.SendInvite(id, conf, dest); err != nil {
		m.failCall(id, fmt.Errorf("invite: %w", err))
	}
	return id, nil
}

// Accept answers incoming call. Call becomes Connected when engine confirms.
func (m *Module) Accept(id CallID, withVideo bool) error {
	const op = "Accept"
	if err := m.checkRunning(op); err != nil {
		return err
	}

	m.callMu.Lock()
	c, err := m.lookupCallUnsafe(op, id)
	if err != nil {
		m.callMu.Unlock()
		return err
	}
	if c.state() != CallStateIncoming {
		m.callMu.Unlock()
		return newError(KindInvalidState, op, "call %d is %s", id, c.state())
	}
	if err := c.fire(evProceed); err != nil {
		m.callMu.Unlock()
		return newError(KindInvalidState, op, "%s", err)
	}
	c.withVideo = withVideo
	m.callMu.Unlock()

	if err := m.engine.SendAccept(id, withVideo); err != nil {
		m.failCall(id, fmt.Errorf("accept: %w", err))
	}
	return nil
}

// Reject declines incoming or proceeding call with statusCode. Zero uses 486.
func (m *Module) Reject(id CallID, statusCode int) error {
	const op = "Reject"
	if err := m.checkRunning(op); err != nil {
		return err
	}
	if statusCode == 0 {
		statusCode = StatusBusyHere
	}
	if statusCode < 400 || statusCode > 699 {
		return newError(KindInvalidArgument, op, "status code %d is not final error", statusCode)
	}

	m.callMu.Lock()
	c, err := m.lookupCallUnsafe(op, id)
	if err != nil {
		m.callMu.Unlock()
		return err
	}
	if s := c.state(); s != CallStateIncoming && s != CallStateProceeding {
		m.callMu.Unlock()
		return newError(KindInvalidState, op, "call %d is %s", id, s)
	}
	if c.dir != DirectionInbound {
		m.callMu.Unlock()
		return newError(KindInvalidState, op, "call %d is outbound", id)
	}
	m.terminateUnsafe(c)
	m.callMu.Unlock()

	if err := m.engine.SendReject(id, statusCode); err != nil {
		m.log.Error("Failed to send reject", "call_id", id, "error", err)
	}
	return nil
}

// Bye ends call in any state. Calling it on terminated call returns NotFound.
// Any completion engine reports later for this call is ignored for state.
func (m *Module) Bye(id CallID) error {
	const op = "Bye"
	if err := m.checkRunning(op); err != nil {
		return err
	}

	m.callMu.Lock()
	c, err := m.lookupCallUnsafe(op, id)
	if err != nil {
		m.callMu.Unlock()
		return err
	}
	if c.state().IsTerminal() {
		m.callMu.Unlock()
		return newError(KindNotFound, op, "call %d already terminated", id)
	}
	m.terminateUnsafe(c)
	m.callMu.Unlock()

	if err := m.engine.SendBye(id); err != nil {
		m.log.Error("Failed to send bye", "call_id", id, "error", err)
	}
	return nil
}

// Hold toggles local hold. Connected call goes to Held and back.
func (m *Module) Hold(id CallID) error {
	const op = "Hold"
	if err := m.checkRunning(op); err != nil {
		return err
	}

	m.callMu.Lock()
	c, err := m.lookupCallUnsafe(op, id)
	if err != nil {
		m.callMu.Unlock()
		return err
	}

	var hold bool
	switch c.state() {
	case CallStateConnected:
		if err := c.fire(evHold); err != nil {
			m.callMu.Unlock()
			return newError(KindInvalidState, op, "%s", err)
		}
		c.hold |= HoldLocal
		hold = true
	case CallStateHeld:
		if c.hold&HoldLocal == 0 {
			// Only remote side holds, add ours
			c.hold |= HoldLocal
			hold = true
			break
		}
		c.hold &^= HoldLocal
		if c.hold == HoldNone {
			if err := c.fire(evUnhold); err != nil {
				m.callMu.Unlock()
				return newError(KindInvalidState, op, "%s", err)
			}
		}
	default:
		m.callMu.Unlock()
		return newError(KindInvalidState, op, "call %d is %s", id, c.state())
	}
	m.callMu.Unlock()

	if err := m.engine.SendHold(id, hold); err != nil {
		m.log.Error("Failed to send hold", "call_id", id, "hold", hold, "error", err)
	}
	return nil
}

// TransferBlind sends REFER to target. Outcome arrives as CallTransferredEvent.
func (m *Module) TransferBlind(id CallID, target string) error {
	const op = "TransferBlind"
	if err := m.checkRunning(op); err != nil {
		return err
	}
	if strings.TrimSpace(target) == "" {
		return newError(KindInvalidArgument, op, "empty transfer target")
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
	m.callMu.Unlock()

	if err := m.engine.SendTransferBlind(id, target); err != nil {
		m.log.Error("Failed to send blind transfer", "call_id", id, "error", err)
	}
	return nil
}

// TransferAttended transfers src call to remote party of dst call.
// Both calls must be connected.
func (m *Module) TransferAttended(src CallID, dst CallID) error {
	const op = "TransferAttended"
	if err := m.checkRunning(op); err != nil {
		return err
	}
	if src == dst {
		return newError(KindInvalidArgument, op, "source and destination call are same")
	}

	m.callMu.Lock()
	for _, id := range []CallID{src, dst} {
		c, err := m.lookupCallUnsafe(op, id)
		if err != nil {
			m.callMu.Unlock()
			return err
		}
		if s := c.state(); s != CallStateConnected {
			m.callMu.Unlock()
			return newError(KindInvalidState, op, "call %d is %s", id, s)
		}
	}
	m.callMu.Unlock()

	if err := m.engine.SendTransferAttended(src, dst); err != nil {
		m.log.Error("Failed to send attended transfer", "call_id", src, "error", err)
	}
	return nil
}

// SendDtmf plays tones on connected call. Zero duration and gap use 200ms and 50ms.
func (m *Module) SendDtmf(id CallID, tones string, durationMs int, gapMs int, method DtmfMethod) error {
	const op = "SendDtmf"
	if err := m.checkRunning(op); err != nil {
		return err
	}
	if tones == "" || !ValidDtmf(tones) {
		return newError(KindInvalidArgument, op, "invalid tones %q", tones)
	}
	if method > DtmfInfo {
		return newError(KindInvalidArgument, op, "unknown dtmf method %d", method)
	}

	dur := DefaultDtmfDuration
	if durationMs != 0 {
		dur = time.Duration(durationMs) * time.Millisecond
	}
	gap := DefaultDtmfGap
	if gapMs != 0 {
		gap = time.Duration(gapMs) * time.Millisecond
	}
	if dur < minDtmfDuration || dur > maxDtmfDuration {
		return newError(KindInvalidArgument, op, "duration %s out of range", dur)
	}
	if gap < 0 || gap > maxDtmfDuration {
		return newError(KindInvalidArgument, op, "gap %s out of range", gap)
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
	m.callMu.Unlock()

	if err := m.engine.SendDtmf(id, tones, dur, gap, method); err != nil {
		m.log.Error("Failed to send dtmf", "call_id", id, "error", err)
	}
	return nil
}

// MuteMic stops or resumes sending local audio
func (m *Module) MuteMic(id CallID, mute bool) error {
	return m.mute("MuteMic", id, MuteMic, mute)
}

// MuteCam stops or resumes sending local video
func (m *Module) MuteCam(id CallID, mute bool) error {
	return m.mute("MuteCam", id, MuteCam, mute)
}

func (m *Module) mute(op string, id CallID, kind MuteKind, mute bool) error {
	if err := m.checkRunning(op); err != nil {
		return err
	}

	m.callMu.Lock()
	c, err := m.lookupCallUnsafe(op, id)
	if err != nil {
		m.callMu.Unlock()
		return err
	}
	if s := c.state(); s != CallStateConnected && s != CallStateHeld {
		m.callMu.Unlock()
		return newError(KindInvalidState, op, "call %d is %s", id, s)
	}
	if kind == MuteCam {
		c.camMuted = mute
	} else {
		c.micMuted = mute
	}
	m.callMu.Unlock()

	if err := m.engine.SetMute(id, kind, mute); err != nil {
		m.log.Error("Failed to set mute", "call_id", id, "error", err)
	}
	return nil
}

// Call returns call snapshot. Terminated calls stay visible for a while.
func (m *Module) Call(id CallID) (Call, error) {
	m.callMu.Lock()
	defer m.callMu.Unlock()
	c, err := m.lookupCallUnsafe("Call", id)
	if err != nil {
		return Call{}, err
	}
	return c.snapshot(m.activeCall), nil
}

// Calls returns calls not yet terminated ordered by id
func (m *Module) Calls() []Call {
	m.callMu.Lock()
	list := make([]Call, 0, len(m.calls))
	for _, c := range m.calls {
		if c.state().IsTerminal() {
			continue
		}
		list = append(list, c.snapshot(m.activeCall))
	}
	m.callMu.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}
