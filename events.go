// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipua

import (
	"fmt"
	"time"
)

type EventKind uint8

const (
	EventAccountRegState EventKind = iota + 1
	EventNetworkState
	EventPlayerState
	EventRingerState
	EventCallIncoming
	EventCallProceeding
	EventCallConnected
	EventCallTerminated
	EventCallTransferred
	EventCallRedirected
	EventCallDtmfReceived
	EventCallHeld
	EventCallSwitched
	EventDevicesAudioChanged
	EventTrialModeNotified
)

var eventKindNames = map[EventKind]string{
	EventAccountRegState:     "AccountRegState",
	EventNetworkState:        "NetworkState",
	EventPlayerState:         "PlayerState",
	EventRingerState:         "RingerState",
	EventCallIncoming:        "CallIncoming",
	EventCallProceeding:      "CallProceeding",
	EventCallConnected:       "CallConnected",
	EventCallTerminated:      "CallTerminated",
	EventCallTransferred:     "CallTransferred",
	EventCallRedirected:      "CallRedirected",
	EventCallDtmfReceived:    "CallDtmfReceived",
	EventCallHeld:            "CallHeld",
	EventCallSwitched:        "CallSwitched",
	EventDevicesAudioChanged: "DevicesAudioChanged",
	EventTrialModeNotified:   "TrialModeNotified",
}

func (k EventKind) String() string {
	if s, ok := eventKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("EventKind(%d)", k)
}

// Event is asynchronous notification delivered to Observer.
type Event interface {
	Kind() EventKind
	String() string
}

// RegResult is registration outcome reported by engine
type RegResult uint8

const (
	RegSuccess RegResult = iota
	RegFailed
	RegRemoved
)

func (r RegResult) String() string {
	switch r {
	case RegSuccess:
		return "Success"
	case RegRemoved:
		return "Removed"
	}
	return "Failed"
}

type NetworkState uint8

const (
	NetworkLost NetworkState = iota
	NetworkRestored
	NetworkSwitched
)

func (s NetworkState) String() string {
	switch s {
	case NetworkRestored:
		return "Restored"
	case NetworkSwitched:
		return "Switched"
	}
	return "Lost"
}

type AccountRegStateEvent struct {
	AccountID AccountID
	Result    RegResult
	// State is registry state after applying result
	State    RegState
	Response string
}

func (AccountRegStateEvent) Kind() EventKind { return EventAccountRegState }
func (e AccountRegStateEvent) String() string {
	return fmt.Sprintf("OnAccountRegState accId:%d state:%s response:%s", e.AccountID, e.Result, e.Response)
}

type NetworkStateEvent struct {
	Name  string
	State NetworkState
}

func (NetworkStateEvent) Kind() EventKind { return EventNetworkState }
func (e NetworkStateEvent) String() string {
	return fmt.Sprintf("OnNetworkState name:%s state:%s", e.Name, e.State)
}

type PlayerStateEvent struct {
	PlayerID PlayerID
	CallID   CallID
	State    PlayerState
}

func (PlayerStateEvent) Kind() EventKind { return EventPlayerState }
func (e PlayerStateEvent) String() string {
	return fmt.Sprintf("OnPlayerState playerId:%d state:%s", e.PlayerID, e.State)
}

type RingerStateEvent struct {
	Started bool
}

func (RingerStateEvent) Kind() EventKind { return EventRingerState }
func (e RingerStateEvent) String() string {
	return fmt.Sprintf("OnRingerState started:%t", e.Started)
}

type CallIncomingEvent struct {
	CallID    CallID
	AccountID AccountID
	WithVideo bool
	From      string
	To        string
}

func (CallIncomingEvent) Kind() EventKind { return EventCallIncoming }
func (e CallIncomingEvent) String() string {
	return fmt.Sprintf("OnCallIncoming callId:%d accId:%d withVideo:%t From:[%s] To:[%s]",
		e.CallID, e.AccountID, e.WithVideo, e.From, e.To)
}

type CallProceedingEvent struct {
	CallID   CallID
	Response string
}

func (CallProceedingEvent) Kind() EventKind { return EventCallProceeding }
func (e CallProceedingEvent) String() string {
	return fmt.Sprintf("OnCallProceeding callId:%d response:%s", e.CallID, e.Response)
}

type CallConnectedEvent struct {
	CallID    CallID
	From      string
	To        string
	WithVideo bool
}

func (CallConnectedEvent) Kind() EventKind { return EventCallConnected }
func (e CallConnectedEvent) String() string {
	return fmt.Sprintf("OnCallConnected callId:%d From:[%s] To:[%s] withVideo:%t", e.CallID, e.From, e.To, e.WithVideo)
}

type CallTerminatedEvent struct {
	CallID     CallID
	StatusCode int
	// Reason is set when call failed locally without SIP response
	Reason string
}

func (CallTerminatedEvent) Kind() EventKind { return EventCallTerminated }
func (e CallTerminatedEvent) String() string {
	if e.Reason != "" {
		return fmt.Sprintf("OnCallTerminated callId:%d statusCode:%d reason:%s", e.CallID, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("OnCallTerminated callId:%d statusCode:%d", e.CallID, e.StatusCode)
}

type CallTransferredEvent struct {
	CallID     CallID
	StatusCode int
}

func (CallTransferredEvent) Kind() EventKind { return EventCallTransferred }
func (e CallTransferredEvent) String() string {
	return fmt.Sprintf("OnCallTransferred callId:%d statusCode:%d", e.CallID, e.StatusCode)
}

type CallRedirectedEvent struct {
	OrigCallID    CallID
	RelatedCallID CallID
	ReferTo       string
}

func (CallRedirectedEvent) Kind() EventKind { return EventCallRedirected }
func (e CallRedirectedEvent) String() string {
	return fmt.Sprintf("OnCallRedirected origCallId:%d relatedCallId:%d referTo:%s", e.OrigCallID, e.RelatedCallID, e.ReferTo)
}

type CallDtmfReceivedEvent struct {
	CallID CallID
	Tone   uint16
	// Digit is Tone as keypad char, 10 is '*' and 11 is '#'
	Digit rune
}

func (CallDtmfReceivedEvent) Kind() EventKind { return EventCallDtmfReceived }
func (e CallDtmfReceivedEvent) String() string {
	return fmt.Sprintf("OnCallDtmfReceived callId:%d tone:%c", e.CallID, e.Digit)
}

type CallHeldEvent struct {
	CallID CallID
	Hold   HoldState
}

func (CallHeldEvent) Kind() EventKind { return EventCallHeld }
func (e CallHeldEvent) String() string {
	return fmt.Sprintf("OnCallHeld callId:%d holdState:%s", e.CallID, e.Hold)
}

type CallSwitchedEvent struct {
	CallID CallID
}

func (CallSwitchedEvent) Kind() EventKind { return EventCallSwitched }
func (e CallSwitchedEvent) String() string {
	return fmt.Sprintf("OnCallSwitched callId:%d", e.CallID)
}

type DevicesAudioChangedEvent struct{}

func (DevicesAudioChangedEvent) Kind() EventKind { return EventDevicesAudioChanged }
func (DevicesAudioChangedEvent) String() string  { return "OnDevicesAudioChanged" }

type TrialModeNotifiedEvent struct{}

func (TrialModeNotifiedEvent) Kind() EventKind { return EventTrialModeNotified }
func (TrialModeNotifiedEvent) String() string  { return "OnTrialModeNotified" }

// Observer receives events in order of commit. OnEvent runs on dispatcher goroutine,
// so blocking in it only delays further events, never state changes.
type Observer interface {
	OnEvent(ev Event)
}

type ObserverFunc func(ev Event)

func (f ObserverFunc) OnEvent(ev Event) { f(ev) }

// ChanObserver is observer that forwards events on channel.
// If channel is full it waits up to Timeout before dropping event. Zero Timeout waits forever.
type ChanObserver struct {
	C       chan Event
	Timeout time.Duration
}

func NewChanObserver(size int) *ChanObserver {
	return &ChanObserver{C: make(chan Event, size)}
}

func (o *ChanObserver) OnEvent(ev Event) {
	if o.Timeout == 0 {
		o.C <- ev
		return
	}

	t := time.NewTimer(o.Timeout)
	defer t.Stop()
	select {
	case o.C <- ev:
	case <-t.C:
	}
}
