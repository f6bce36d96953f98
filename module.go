// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipua

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

const Version = "1.0.0"

type LogLevel uint8

const (
	LogNone LogLevel = iota
	LogError
	LogWarn
	LogInfo
	LogDebug
)

// IniConfig is passed on Initialize
type IniConfig struct {
	// License empty runs module in trial mode
	License         string
	LogLevel        LogLevel
	TLSVerifyServer bool
	HomeFolder      string
}

func DefaultIniConfig() IniConfig {
	return IniConfig{
		LogLevel: LogDebug,
	}
}

const (
	moduleCreated uint32 = iota
	moduleRunning
	moduleClosed
)

// Module is control plane of SIP user agent. It owns account and call registries,
// device catalog and event dispatcher. Network and media work is delegated to Engine.
//
// Lock order is accMu before callMu.
type Module struct {
	engine  Engine
	log     *slog.Logger
	version string
	metrics *metrics
	promReg prometheus.Registerer
	state   atomic.Uint32
	ini     IniConfig

	accountIDs idAllocator
	callIDs    idAllocator
	playerIDs  idAllocator

	accMu    sync.Mutex
	accounts map[AccountID]*account

	callMu     sync.Mutex
	calls      map[CallID]*call
	tombstones []CallID
	players    map[PlayerID]*player
	activeCall CallID

	devices *DeviceCatalog
	events  *dispatcher

	observer Observer
}

type ModuleOption func(m *Module)

func WithLogger(l *slog.Logger) ModuleOption {
	return func(m *Module) {
		m.log = l
	}
}

// WithObserver sets observer before module starts. See SetObserver
func WithObserver(o Observer) ModuleOption {
	return func(m *Module) {
		m.observer = o
	}
}

// WithMetrics registers module collectors on reg
func WithMetrics(reg prometheus.Registerer) ModuleOption {
	return func(m *Module) {
		m.promReg = reg
	}
}

func WithVersion(v string) ModuleOption {
	return func(m *Module) {
		m.version = v
	}
}

// NewModule creates module using engine. Call Initialize before using it.
func NewModule(engine Engine, opts ...ModuleOption) *Module {
	m := &Module{
		engine:   engine,
		log:      slog.Default(),
		version:  Version,
		accounts: make(map[AccountID]*account),
		calls:    make(map[CallID]*call),
		players:  make(map[PlayerID]*player),
	}

	for _, o := range opts {
		o(m)
	}
	m.log = m.log.With("caller", "sipua")
	m.metrics = newMetrics(m.promReg)
	m.devices = newDeviceCatalog(engine, m.checkRunning)
	m.events = newDispatcher(m.log, m.metrics)
	m.events.setObserver(m.observer)
	return m
}

func (m *Module) Version() string {
	return m.version
}

// Devices returns device catalog
func (m *Module) Devices() *DeviceCatalog {
	return m.devices
}

// SetObserver replaces event observer. Nil detaches.
func (m *Module) SetObserver(o Observer) {
	m.events.setObserver(o)
}

func (m *Module) checkRunning(op string) error {
	switch m.state.Load() {
	case moduleRunning:
		return nil
	case moduleCreated:
		return newError(KindUnavailable, op, "module is not initialized")
	}
	return newError(KindUnavailable, op, "module is shut down")
}

// Initialize starts event delivery and engine. It can be called once.
func (m *Module) Initialize(ctx context.Context, ini IniConfig) error {
	const op = "Initialize"
	if !m.state.CompareAndSwap(moduleCreated, moduleRunning) {
		return newError(KindInvalidState, op, "module already initialized")
	}
	m.ini = ini
	m.events.start()

	if err := m.engine.Start(ctx, m); err != nil {
		m.state.Store(moduleClosed)
		m.events.close(ctx)
		return newError(KindUnavailable, op, "engine start: %s", err)
	}

	if ini.License == "" {
		m.OnTrialModeNotified()
	}
	m.log.Info("Module initialized", "version", m.version)
	return nil
}

// Shutdown ends calls, unregisters accounts, stops engine and delivers remaining events.
func (m *Module) Shutdown(ctx context.Context) error {
	if !m.state.CompareAndSwap(moduleRunning, moduleClosed) {
		return newError(KindInvalidState, "Shutdown", "module is not running")
	}

	m.callMu.Lock()
	live := make([]CallID, 0, len(m.calls))
	for id, c := range m.calls {
		if !c.state().IsTerminal() {
			m.terminateUnsafe(c)
			live = append(live, id)
		}
	}
	m.callMu.Unlock()

	m.accMu.Lock()
	registered := make([]AccountID, 0, len(m.accounts))
	for id, a := range m.accounts {
		if a.state == RegStateRegistered || a.state == RegStateRegistering {
			registered = append(registered, id)
			m.setAccountStateUnsafe(a, RegStateUnregistered)
		}
	}
	m.accMu.Unlock()

	var errs []error
	for _, id := range live {
		if err := m.engine.SendBye(id); err != nil {
			errs = append(errs, fmt.Errorf("bye call %d: %w", id, err))
		}
	}
	for _, id := range registered {
		if err := m.engine.SendUnregister(id); err != nil {
			errs = append(errs, fmt.Errorf("unregister account %d: %w", id, err))
		}
	}

	if err := m.engine.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("engine stop: %w", err))
	}
	if err := m.events.close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("event drain: %w", err))
	}

	m.log.Info("Module shut down")
	return errors.Join(errs...)
}
