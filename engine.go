// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipua

import (
	"context"
	"time"
)

// Engine is network and media layer driven by Module.
// Calls are fire and forget: returned error only reports that request could not be
// started. Outcomes are reported later through EngineEvents.
// Module never calls Engine while holding registry locks, so Engine may call back
// EngineEvents from within any method.
type Engine interface {
	Start(ctx context.Context, events EngineEvents) error
	Stop(ctx context.Context) error

	SendRegister(id AccountID, acc AccountConfig, expire time.Duration) error
	SendUnregister(id AccountID) error

	SendInvite(id CallID, acc AccountConfig, dest Destination) error
	SendAccept(id CallID, withVideo bool) error
	SendReject(id CallID, statusCode int) error
	SendBye(id CallID) error
	SendHold(id CallID, hold bool) error
	SendTransferBlind(id CallID, target string) error
	SendTransferAttended(src CallID, dst CallID) error
	SendDtmf(id CallID, tones string, duration time.Duration, gap time.Duration, method DtmfMethod) error
	SetMute(id CallID, kind MuteKind, mute bool) error

	StartPlayback(id PlayerID, callID CallID, path string, loop bool) error
	StopPlayback(id PlayerID) error
	StartRecording(id PlayerID, callID CallID, path string) error
	StopRecording(id PlayerID) error

	SwitchActive(id CallID) error
	MakeConference(ids []CallID) error

	EnumerateDevices(kind DeviceKind) ([]Device, error)
	SelectDevice(kind DeviceKind, index int) error
}

// EngineEvents is implemented by Module and receives everything engine reports.
// Methods are safe to call from any goroutine.
type EngineEvents interface {
	OnRegistrationResult(id AccountID, result RegResult, response string)
	OnNetworkState(name string, state NetworkState)

	// OnIncomingCall registers new inbound call and returns its id.
	// Zero id means account is unknown and engine should reject request.
	// Observer learns about call only after OnCallReady.
	OnIncomingCall(accID AccountID, withVideo bool, from string, to string) CallID
	// OnCallReady announces call registered by OnIncomingCall or OnCallRedirected.
	// Engine calls it once it can serve commands for id.
	OnCallReady(id CallID)
	OnCallProceeding(id CallID, response string)
	OnCallConnected(id CallID, from string, to string, withVideo bool)
	OnCallTerminated(id CallID, statusCode int)
	OnCallTransferred(id CallID, statusCode int)
	// OnCallRedirected creates outbound call to referTo on behalf of orig call and returns its id.
	// Zero id means orig call is gone. Announced by OnCallReady.
	OnCallRedirected(orig CallID, referTo string) CallID
	OnDtmfReceived(id CallID, tone uint16)
	OnCallHeld(id CallID, state HoldState)
	OnCallSwitched(id CallID)

	OnPlayerState(id PlayerID, state PlayerState)
	OnRingerState(started bool)
	OnDevicesAudioChanged()
	OnTrialModeNotified()
}

var _ EngineEvents = (*Module)(nil)
