// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/emiago/sipua"
)

type menuID uint8

const (
	menuMain menuID = iota
	menuAccounts
	menuCalls
	menuDevices
)

// console is interactive text menu driving module.
// Input is read word by word, so prompts can be answered on one line.
type console struct {
	m   *sipua.Module
	in  *bufio.Scanner
	out io.Writer
	// mu serializes output with event printer
	mu *sync.Mutex
}

func newConsole(m *sipua.Module, in io.Reader, out io.Writer, mu *sync.Mutex) *console {
	s := bufio.NewScanner(in)
	s.Split(bufio.ScanWords)
	return &console{m: m, in: s, out: out, mu: mu}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	fmt.Fprintf(c.out, format, args...)
	c.mu.Unlock()
}

// word prints prompt and returns next input word. ok is false on end of input.
func (c *console) word(prompt string) (string, bool) {
	if prompt != "" {
		c.printf("%s", prompt)
	}
	if !c.in.Scan() {
		return "", false
	}
	return c.in.Text(), true
}

func (c *console) number(prompt string) (int, bool) {
	for {
		w, ok := c.word(prompt)
		if !ok {
			return 0, false
		}
		n, err := strconv.Atoi(w)
		if err == nil {
			return n, true
		}
		c.printf("Not a number: %s\n", w)
	}
}

func (c *console) yes(prompt string) (bool, bool) {
	w, ok := c.word(prompt)
	if !ok {
		return false, false
	}
	switch strings.ToLower(w) {
	case "y", "v", "1", "yes":
		return true, true
	}
	return false, true
}

// run reads commands until quit or end of input
func (c *console) run() {
	cur := menuMain
	c.mainMenu(&cur, 0)

	for {
		w, ok := c.word("\n>>> Enter command: ")
		if !ok {
			return
		}
		cmd := w[0]

		exit := false
		switch cur {
		case menuMain:
			exit = c.mainMenu(&cur, cmd)
		case menuAccounts:
			exit = c.accountsMenu(cmd)
		case menuCalls:
			exit = c.callsMenu(cmd)
		case menuDevices:
			exit = c.devicesMenu(cmd)
		}
		if !exit {
			continue
		}
		if cur == menuMain {
			return
		}
		cur = menuMain
		c.mainMenu(&cur, 0)
	}
}

func (c *console) mainMenu(cur *menuID, cmd byte) bool {
	switch cmd {
	case 'A', 'a':
		*cur = menuAccounts
		c.accountsMenu(0)
		return false
	case 'C', 'c':
		*cur = menuCalls
		c.callsMenu(0)
		return false
	case 'D', 'd':
		*cur = menuDevices
		c.devicesMenu(0)
		return false
	case 'Q', 'q':
		return true
	}
	c.printf(" A  Accounts menu\n" +
		" C  Calls menu\n" +
		" D  Devices menu\n" +
		" Q  => Quit\n")
	return false
}

func (c *console) accountsMenu(cmd byte) bool {
	switch cmd {
	case 'a':
		c.addAccount()
		return false
	case 'd':
		c.accountCommand("Enter accId to delete: ", "Account deleted", "Can't delete account", c.m.DeleteAccount)
		return false
	case 'u':
		c.accountCommand("Enter accId to unregister: ", "Unregister request sent", "Can't unregister account", c.m.UnregisterAccount)
		return false
	case 'r':
		c.registerAccount()
		return false
	case 's':
		c.updateSecureMedia()
		return false
	case 'l':
		c.listAccounts()
		return false
	case '-':
		return true
	}
	c.printf("  a  Add account\n" +
		"  d  Delete account\n" +
		"  u  Unregister account\n" +
		"  r  Refresh account registration\n" +
		"  s  Update secure media settings\n" +
		"  l  List accounts\n" +
		"  -  -> Back to main menu\n")
	return false
}

func (c *console) callsMenu(cmd byte) bool {
	switch cmd {
	case 'i':
		c.invite()
	case 'a':
		c.accept()
	case 'j':
		c.callCommand("Enter callId to reject: ", "Call rejected", "Can't reject call", func(id sipua.CallID) error {
			return c.m.Reject(id, sipua.StatusBusyHere)
		})
	case 'e':
		c.callCommand("Enter callId to end: ", "End call request has sent", "Can't end call", c.m.Bye)
	case 'd':
		c.sendDtmf()
	case 'p':
		c.playFile()
	case 'r':
		c.recordFile()
	case 'm':
		c.mute("Enter callId where to mute mic: ", c.m.MuteMic)
	case 'v':
		c.mute("Enter callId where to mute camera: ", c.m.MuteCam)
	case 'h':
		c.callCommand("Enter callId to hold: ", "Hold request sent", "Can't hold call", c.m.Hold)
	case 't':
		c.transferBlind()
	case 'x':
		c.transferAttended()
	case 's':
		c.callCommand("Enter callId where to switch: ", "Switched to call successfully", "Can't switch to call", c.m.SwitchToCall)
	case 'c':
		c.callResult(c.m.MakeConference(), 0, "Calls joined to conference", "Can't make conference")
	case 'l':
		c.listCalls()
	case '-':
		return true
	default:
		c.printf("  i  Initiate new call\n" +
			"  a  Accept incoming call\n" +
			"  j  Reject incoming call\n" +
			"  e  End/Cancel call\n\n" +
			"  d  Send DTMF tones to call\n" +
			"  p  Play file to call\n" +
			"  r  Record call to file\n" +
			"  m  Mute mic of call\n" +
			"  v  Mute camera of call\n" +
			"  h  Hold/unhold call\n" +
			"  t  Transfer call (blind)\n" +
			"  x  Transfer call (attended)\n\n" +
			"  s  Switch to call (start hear/speak it)\n" +
			"  c  Make conference call\n" +
			"  l  List calls\n" +
			"  -  -> Back to main menu\n")
	}
	return false
}

func (c *console) devicesMenu(cmd byte) bool {
	switch cmd {
	case 'p':
		c.listDevices(sipua.DevicePlayout, "playout audio")
	case 'r':
		c.listDevices(sipua.DeviceRecording, "recording audio")
	case 'v':
		c.listDevices(sipua.DeviceVideo, "video")
	case 's':
		c.selectDevice()
	case '-':
		return true
	default:
		c.printf("  p  Display list of Playout devices\n" +
			"  r  Display list of Recording devices\n" +
			"  v  Display list of Video devices\n" +
			"  s  Switch device\n" +
			"  -  -> Back to main menu\n")
	}
	return false
}

func (c *console) accResult(err error, id sipua.AccountID, success string, fail string) {
	if err != nil {
		c.printf("%s. Err: %s\n", fail, err)
		return
	}
	c.printf("%s. AccId:%d\n", success, id)
}

func (c *console) callResult(err error, id sipua.CallID, success string, fail string) {
	if err != nil {
		c.printf("%s. Err: %s\n", fail, err)
		return
	}
	c.printf("%s. CallId: ~~~ %d ~~~\n", success, id)
}

func (c *console) addAccount() {
	server, ok := c.word("Enter server domain name or IP address: ")
	if !ok {
		return
	}
	ext, ok := c.word("Enter extension: ")
	if !ok {
		return
	}
	password, ok := c.word("Enter password: ")
	if !ok {
		return
	}

	conf := sipua.DefaultAccountConfig()
	conf.SipServer = server
	conf.Extension = ext
	conf.Password = password

	id, err := c.m.AddAccount(conf)
	c.accResult(err, id, "Account added", "Can't add account")
	if err != nil {
		return
	}
	err = c.m.RegisterAccount(id, conf.ExpireSeconds)
	c.accResult(err, id, "Register request sent", "Can't register account")
}

func (c *console) accountCommand(prompt string, success string, fail string, f func(id sipua.AccountID) error) {
	n, ok := c.number(prompt)
	if !ok {
		return
	}
	id := sipua.AccountID(n)
	c.accResult(f(id), id, success, fail)
}

func (c *console) registerAccount() {
	n, ok := c.number("Enter accId to update registration: ")
	if !ok {
		return
	}
	expire, ok := c.number("Enter expire time (seconds): ")
	if !ok {
		return
	}
	id := sipua.AccountID(n)
	c.accResult(c.m.RegisterAccount(id, expire), id, "Register request sent", "Can't register account")
}

func (c *console) updateSecureMedia() {
	n, ok := c.number("Enter accId to update: ")
	if !ok {
		return
	}
	mode, ok := c.number("Enter secure media setting [0(Disabled), 1(SDES SRTP), 2(DTLS SRTP)]: ")
	if !ok {
		return
	}
	id := sipua.AccountID(n)
	sm := sipua.SecureMedia(mode)
	if mode < 0 || mode > 255 {
		sm = sipua.SecureMedia(255)
	}
	err := c.m.UpdateAccount(id, sipua.AccountUpdate{SecureMedia: &sm})
	c.accResult(err, id, "Account updated", "Can't update account")
}

func (c *console) listAccounts() {
	accs := c.m.Accounts()
	c.printf("Accounts: %d\n", len(accs))
	for _, a := range accs {
		c.printf("    -%d- %s %s %s\n", a.ID, a.Config.AOR(), a.Config.Transport, a.RegState)
	}
}

func (c *console) callCommand(prompt string, success string, fail string, f func(id sipua.CallID) error) {
	n, ok := c.number(prompt)
	if !ok {
		return
	}
	id := sipua.CallID(n)
	c.callResult(f(id), id, success, fail)
}

func (c *console) invite() {
	acc, ok := c.number("Enter accId where to initiate call: ")
	if !ok {
		return
	}
	ext, ok := c.word("Enter destination number (extension): ")
	if !ok {
		return
	}
	video, ok := c.yes("Make call with video (y/n): ")
	if !ok {
		return
	}
	id, err := c.m.Invite(sipua.Destination{
		AccountID: sipua.AccountID(acc),
		Extension: ext,
		WithVideo: video,
	})
	c.callResult(err, id, "Starting...", "Can't initiate call")
}

func (c *console) accept() {
	n, ok := c.number("Enter callId to accept: ")
	if !ok {
		return
	}
	video, ok := c.yes("Accept call with video (y/n): ")
	if !ok {
		return
	}
	id := sipua.CallID(n)
	c.callResult(c.m.Accept(id, video), id, "Call accepting...", "Can't accept call")
}

func (c *console) sendDtmf() {
	n, ok := c.number("Enter callId where to send tones: ")
	if !ok {
		return
	}
	tones, ok := c.word("Enter DTMF tone(s): ")
	if !ok {
		return
	}
	id := sipua.CallID(n)
	err := c.m.SendDtmf(id, tones,
		int(sipua.DefaultDtmfDuration.Milliseconds()),
		int(sipua.DefaultDtmfGap.Milliseconds()),
		sipua.DtmfRTP,
	)
	c.callResult(err, id, "Sending tones started successfully", "Can't send tones")
}

func (c *console) playFile() {
	n, ok := c.number("Enter callId where to play file: ")
	if !ok {
		return
	}
	path, ok := c.word("Enter path(name) of wav file: ")
	if !ok {
		return
	}
	id := sipua.CallID(n)
	pid, err := c.m.PlayFile(id, path, false)
	c.callResult(err, id, fmt.Sprintf("Play file started successfully (playerId:%d)", pid), "Can't play file")
}

func (c *console) recordFile() {
	n, ok := c.number("Enter callId to start/stop recording: ")
	if !ok {
		return
	}
	start, ok := c.yes("Enter 1 to start/0 stop recording: ")
	if !ok {
		return
	}
	id := sipua.CallID(n)
	if !start {
		c.callResult(c.m.StopRecordFile(id), id, "Record file stopped successfully", "Can't stop recording")
		return
	}
	_, err := c.m.RecordFile(id, sipua.RecordingPath(id))
	c.callResult(err, id, "Record file started successfully", "Can't record file")
}

func (c *console) mute(prompt string, f func(id sipua.CallID, mute bool) error) {
	n, ok := c.number(prompt)
	if !ok {
		return
	}
	mute, ok := c.yes("Enter 1 to mute/0 unmute: ")
	if !ok {
		return
	}
	id := sipua.CallID(n)
	c.callResult(f(id, mute), id, "Mute state changed successfully", "Can't mute call")
}

func (c *console) transferBlind() {
	n, ok := c.number("Enter callId to transfer: ")
	if !ok {
		return
	}
	target, ok := c.word("Enter destination addr: ")
	if !ok {
		return
	}
	id := sipua.CallID(n)
	c.callResult(c.m.TransferBlind(id, target), id, "Transfer request sent", "Can't transfer")
}

func (c *console) transferAttended() {
	src, ok := c.number("Enter callId to transfer: ")
	if !ok {
		return
	}
	dst, ok := c.number("Enter destination callId: ")
	if !ok {
		return
	}
	id := sipua.CallID(src)
	c.callResult(c.m.TransferAttended(id, sipua.CallID(dst)), id, "Transfer request sent", "Can't transfer")
}

func (c *console) listCalls() {
	calls := c.m.Calls()
	c.printf("Calls: %d\n", len(calls))
	for _, cl := range calls {
		active := ""
		if cl.Active {
			active = " *"
		}
		c.printf("    -%d- %s %s %s hold:%s%s\n", cl.ID, cl.Direction, cl.Remote, cl.State, cl.Hold, active)
	}
}

func (c *console) listDevices(kind sipua.DeviceKind, label string) {
	devices, err := c.m.Devices().Devices(kind)
	if err != nil {
		c.printf("Err: %s\n", err)
		return
	}
	if len(devices) == 0 {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Detected %d %s devices:", len(devices), label)
	for _, d := range devices {
		fmt.Fprintf(&b, "\n    -%d- %s [%s]", d.Index, d.Name, d.GUID)
	}
	b.WriteString("\n")
	c.printf("%s", b.String())
}

func (c *console) selectDevice() {
	k, ok := c.word("Enter which device to set: p - Playback, r - Recording, v - Video: ")
	if !ok {
		return
	}
	idx, ok := c.number("Enter device index: ")
	if !ok {
		return
	}
	kind, err := sipua.ParseDeviceKind(k)
	if err != nil {
		c.printf("Wrong device type.\n")
		return
	}
	if err := c.m.Devices().SelectDevice(kind, idx); err != nil {
		c.printf("Err: %s\n", err)
	}
}

// eventPrinter writes every event as single line
type eventPrinter struct {
	out io.Writer
	mu  *sync.Mutex
}

func (p *eventPrinter) OnEvent(ev sipua.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ev.Kind() == sipua.EventTrialModeNotified {
		fmt.Fprintf(p.out, "\n--- SIPUA is working in TRIAL mode ---\n")
		return
	}
	fmt.Fprintf(p.out, "\n--- %s\n", ev.String())
}
