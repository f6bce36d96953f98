// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipua

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"
)

type CallState uint8

const (
	CallStateInitiating CallState = iota
	CallStateIncoming
	CallStateProceeding
	CallStateConnected
	CallStateHeld
	CallStateTerminated
)

var callStateNames = [...]string{
	CallStateInitiating: "Initiating",
	CallStateIncoming:   "Incoming",
	CallStateProceeding: "Proceeding",
	CallStateConnected:  "Connected",
	CallStateHeld:       "Held",
	CallStateTerminated: "Terminated",
}

func (s CallState) String() string {
	if int(s) < len(callStateNames) {
		return callStateNames[s]
	}
	return fmt.Sprintf("CallState(%d)", s)
}

func parseCallState(s string) CallState {
	for i, name := range callStateNames {
		if name == s {
			return CallState(i)
		}
	}
	return CallStateTerminated
}

// IsTerminal returns true when no further transitions are possible
func (s CallState) IsTerminal() bool {
	return s == CallStateTerminated
}

// Call FSM events
const (
	evProceed   = "proceed"
	evConnect   = "connect"
	evHold      = "hold"
	evUnhold    = "unhold"
	evTerminate = "terminate"
)

func newCallFSM(initial CallState) *fsm.FSM {
	return fsm.NewFSM(
		initial.String(),
		fsm.Events{
			{Name: evProceed, Src: []string{CallStateInitiating.String(), CallStateIncoming.String()}, Dst: CallStateProceeding.String()},
			{Name: evConnect, Src: []string{CallStateProceeding.String(), CallStateIncoming.String()}, Dst: CallStateConnected.String()},
			{Name: evHold, Src: []string{CallStateConnected.String()}, Dst: CallStateHeld.String()},
			{Name: evUnhold, Src: []string{CallStateHeld.String()}, Dst: CallStateConnected.String()},
			{Name: evTerminate, Src: []string{
				CallStateInitiating.String(),
				CallStateIncoming.String(),
				CallStateProceeding.String(),
				CallStateConnected.String(),
				CallStateHeld.String(),
			}, Dst: CallStateTerminated.String()},
		},
		nil,
	)
}

// fire applies event on call FSM. Must be called under call registry lock.
func (c *call) fire(event string) error {
	if err := c.fsm.Event(context.Background(), event); err != nil {
		return fmt.Errorf("call %d %s in state %s: %w", c.id, event, c.fsm.Current(), err)
	}
	return nil
}

func (c *call) can(event string) bool {
	return c.fsm.Can(event)
}

func (c *call) state() CallState {
	return parseCallState(c.fsm.Current())
}
