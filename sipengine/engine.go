// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipengine

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/emiago/sipua"
)

// Config is engine transport and media setup
type Config struct {
	// Transport must be udp, tcp or tls
	Transport string
	BindHost  string
	// BindPort zero binds ephemeral port
	BindPort int
	// ExternalHost is used in Contact and Via. BindHost is used when empty
	ExternalHost string

	// MediaHost is RTP bind and SDP connection address
	MediaHost    string
	RTPPortStart int
	RTPPortEnd   int

	UserAgent string
	TLSConf   *tls.Config

	// Devices are reported on enumeration. Engine runs headless, no device I/O is done
	Devices map[sipua.DeviceKind][]sipua.Device
}

func DefaultConfig() Config {
	return Config{
		Transport:    "udp",
		BindHost:     "127.0.0.1",
		BindPort:     5060,
		MediaHost:    "127.0.0.1",
		RTPPortStart: 20000,
		RTPPortEnd:   30000,
		UserAgent:    "sipua",
		Devices: map[sipua.DeviceKind][]sipua.Device{
			sipua.DevicePlayout: {
				{Index: 0, Name: "Null playout", GUID: "null-playout"},
				{Index: 1, Name: "File playout", GUID: "file-playout"},
			},
			sipua.DeviceRecording: {{Index: 0, Name: "Null recording", GUID: "null-recording"}},
			sipua.DeviceVideo:     {{Index: 0, Name: "No camera image", GUID: "no-camera"}},
		},
	}
}

type EngineOption func(e *Engine)

func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.log = l
	}
}

// Engine implements sipua.Engine on top of sipgo user agent and plain RTP over UDP.
type Engine struct {
	conf Config
	log  *slog.Logger

	ua      *sipgo.UserAgent
	client  *sipgo.Client
	server  *sipgo.Server
	network string
	host    string
	port    int
	closer  func() error

	events sipua.EngineEvents
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	accounts map[sipua.AccountID]*registration
	legs     map[sipua.CallID]*callLeg
	dialogs  map[string]*callLeg
	players  map[sipua.PlayerID]mediaPlayer
	active   sipua.CallID
	selected map[sipua.DeviceKind]int
}

var _ sipua.Engine = (*Engine)(nil)

func New(conf Config, opts ...EngineOption) *Engine {
	e := &Engine{
		conf:     conf,
		log:      slog.Default(),
		accounts: make(map[sipua.AccountID]*registration),
		legs:     make(map[sipua.CallID]*callLeg),
		dialogs:  make(map[string]*callLeg),
		players:  make(map[sipua.PlayerID]mediaPlayer),
		selected: make(map[sipua.DeviceKind]int),
	}
	for _, o := range opts {
		o(e)
	}
	e.log = e.log.With("caller", "sipengine")
	return e
}

// Addr returns host and port engine listens on. Valid after Start.
func (e *Engine) Addr() (string, int) {
	return e.host, e.port
}

func (e *Engine) Start(ctx context.Context, events sipua.EngineEvents) error {
	e.events = events
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.network = sip.NetworkToLower(e.conf.Transport)
	if e.network == "" {
		e.network = "udp"
	}

	host := e.conf.ExternalHost
	if host == "" {
		host = e.conf.BindHost
	}
	e.host = host

	ua, err := sipgo.NewUA(
		sipgo.WithUserAgent(e.conf.UserAgent),
		sipgo.WithUserAgentHostname(host),
	)
	if err != nil {
		return fmt.Errorf("create user agent: %w", err)
	}
	e.ua = ua

	e.server, err = sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return fmt.Errorf("create server: %w", err)
	}
	e.registerHandlers()

	addr := net.JoinHostPort(e.conf.BindHost, strconv.Itoa(e.conf.BindPort))
	if err := e.listen(addr); err != nil {
		ua.Close()
		return err
	}

	e.client, err = sipgo.NewClient(ua,
		sipgo.WithClientHostname(host),
		sipgo.WithClientPort(e.port),
		sipgo.WithClientNAT(),
	)
	if err != nil {
		e.closer()
		ua.Close()
		return fmt.Errorf("create client: %w", err)
	}

	e.log.Info("Listening on transport", "network", e.network, "addr", addr, "port", e.port)
	return nil
}

func (e *Engine) listen(addr string) error {
	serve := func(f func() error) {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := f(); err != nil && !errors.Is(err, net.ErrClosed) {
				e.log.Error("Serving transport stopped", "error", err)
			}
		}()
	}

	switch e.network {
	case "udp":
		conn, err := net.ListenPacket("udp", addr)
		if err != nil {
			return fmt.Errorf("listen udp %s: %w", addr, err)
		}
		e.port = conn.LocalAddr().(*net.UDPAddr).Port
		e.closer = conn.Close
		serve(func() error { return e.server.ServeUDP(conn) })
	case "tcp":
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen tcp %s: %w", addr, err)
		}
		e.port = l.Addr().(*net.TCPAddr).Port
		e.closer = l.Close
		serve(func() error { return e.server.ServeTCP(l) })
	case "tls":
		if e.conf.TLSConf == nil {
			return fmt.Errorf("tls transport without tls config")
		}
		l, err := tls.Listen("tcp", addr, e.conf.TLSConf)
		if err != nil {
			return fmt.Errorf("listen tls %s: %w", addr, err)
		}
		e.port = l.Addr().(*net.TCPAddr).Port
		e.closer = l.Close
		serve(func() error { return e.server.ServeTLS(l) })
	default:
		return fmt.Errorf("unsupported transport %q", e.conf.Transport)
	}
	return nil
}

func (e *Engine) Stop(ctx context.Context) error {
	if e.cancel == nil {
		return nil
	}
	e.cancel()

	e.mu.Lock()
	legs := make([]*callLeg, 0, len(e.legs))
	for _, l := range e.legs {
		legs = append(legs, l)
	}
	players := make([]mediaPlayer, 0, len(e.players))
	for _, p := range e.players {
		players = append(players, p)
	}
	e.mu.Unlock()

	for _, p := range players {
		p.stop()
	}
	for _, l := range legs {
		l.close()
	}

	var errs []error
	if e.closer != nil {
		if err := e.closer(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if err := e.ua.Close(); err != nil {
		errs = append(errs, err)
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	return errors.Join(errs...)
}

// contactFor builds Contact for account on engine transport
func (e *Engine) contactFor(acc sipua.AccountConfig) sip.ContactHeader {
	scheme := "sip"
	if e.network == "tls" {
		scheme = "sips"
	}
	contact := sip.ContactHeader{
		DisplayName: acc.DisplayName,
		Address: sip.Uri{
			Scheme:    scheme,
			User:      acc.Extension,
			Host:      e.host,
			Port:      e.port,
			UriParams: sip.NewParams(),
			Headers:   sip.NewParams(),
		},
		Params: sip.NewParams(),
	}
	if e.network != "udp" {
		contact.Address.UriParams = contact.Address.UriParams.Add("transport", e.network)
	}
	if acc.InstanceID != "" {
		contact.Params = contact.Params.Add("+sip.instance", `"`+acc.InstanceID+`"`)
	}
	return contact
}

// serverURI returns registrar or proxy address of account
func (e *Engine) serverURI(acc sipua.AccountConfig, user string) (sip.Uri, error) {
	uri := sip.Uri{}
	target := acc.SipServer
	if user != "" {
		if strings.HasPrefix(user, "sip:") || strings.HasPrefix(user, "sips:") {
			target = user
		} else {
			target = user + "@" + acc.SipServer
		}
	}
	if !strings.HasPrefix(target, "sip:") && !strings.HasPrefix(target, "sips:") {
		target = "sip:" + target
	}
	if err := sip.ParseUri(target, &uri); err != nil {
		return uri, fmt.Errorf("parse uri %q: %w", target, err)
	}
	return uri, nil
}

func (e *Engine) registerHandlers() {
	errHandler := func(f func(req *sip.Request, tx sip.ServerTransaction) error) sipgo.RequestHandler {
		return func(req *sip.Request, tx sip.ServerTransaction) {
			if err := f(req, tx); err != nil {
				e.log.Error("Failed to handle request", "error", err, "req.method", req.Method.String())
			}
		}
	}

	e.server.OnInvite(errHandler(e.handleInvite))
	e.server.OnAck(errHandler(e.handleAck))
	e.server.OnBye(errHandler(e.handleBye))
	e.server.OnInfo(errHandler(e.handleInfo))
	e.server.OnRefer(errHandler(e.handleRefer))
	e.server.OnNotify(errHandler(e.handleNotify))
	e.server.OnCancel(func(req *sip.Request, tx sip.ServerTransaction) {
		// INVITE transaction is terminated by transaction layer
		tx.Respond(sip.NewResponseFromRequest(req, sip.StatusCallTransactionDoesNotExists, "Call/Transaction Does Not Exist", nil))
	})
	e.server.OnOptions(errHandler(func(req *sip.Request, tx sip.ServerTransaction) error {
		return tx.Respond(sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil))
	}))
}

// matchLeg finds call leg of in dialog request
func (e *Engine) matchLeg(req *sip.Request) (*callLeg, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if id, err := sip.UASReadRequestDialogID(req); err == nil {
		if l, ok := e.dialogs[id]; ok {
			return l, nil
		}
	}
	if id, err := sip.UACReadRequestDialogID(req); err == nil {
		if l, ok := e.dialogs[id]; ok {
			return l, nil
		}
	}
	return nil, sipgo.ErrDialogDoesNotExists
}

func respondNoDialog(req *sip.Request, tx sip.ServerTransaction, err error) error {
	if errors.Is(err, sipgo.ErrDialogDoesNotExists) {
		return tx.Respond(sip.NewResponseFromRequest(req, sip.StatusCallTransactionDoesNotExists, err.Error(), nil))
	}
	return tx.Respond(sip.NewResponseFromRequest(req, sip.StatusBadRequest, err.Error(), nil))
}

func (e *Engine) EnumerateDevices(kind sipua.DeviceKind) ([]sipua.Device, error) {
	list := e.conf.Devices[kind]
	out := make([]sipua.Device, len(list))
	copy(out, list)
	return out, nil
}

func (e *Engine) SelectDevice(kind sipua.DeviceKind, index int) error {
	if index < 0 || index >= len(e.conf.Devices[kind]) {
		return fmt.Errorf("no %s device %d", kind, index)
	}
	e.mu.Lock()
	e.selected[kind] = index
	e.mu.Unlock()
	return nil
}
