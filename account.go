// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipua

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Transport uint8

const (
	TransportUDP Transport = iota
	TransportTCP
	TransportTLS
)

func (t Transport) String() string {
	switch t {
	case TransportTCP:
		return "TCP"
	case TransportTLS:
		return "TLS"
	}
	return "UDP"
}

// Network returns lower case network name as used by SIP stacks
func (t Transport) Network() string {
	return strings.ToLower(t.String())
}

func ParseTransport(s string) (Transport, error) {
	switch strings.ToUpper(s) {
	case "UDP":
		return TransportUDP, nil
	case "TCP":
		return TransportTCP, nil
	case "TLS":
		return TransportTLS, nil
	}
	return 0, fmt.Errorf("unknown transport %q", s)
}

// SecureMedia values follow numeric menu input: 0 disabled, 1 SDES SRTP, 2 DTLS SRTP
type SecureMedia uint8

const (
	SecureMediaDisabled SecureMedia = iota
	SecureMediaSdesSrtp
	SecureMediaDtlsSrtp
)

func (s SecureMedia) String() string {
	switch s {
	case SecureMediaSdesSrtp:
		return "SDES-SRTP"
	case SecureMediaDtlsSrtp:
		return "DTLS-SRTP"
	}
	return "Disabled"
}

func (s SecureMedia) valid() bool {
	return s <= SecureMediaDtlsSrtp
}

type RegState uint8

const (
	RegStateUnregistered RegState = iota
	RegStateRegistering
	RegStateRegistered
	RegStateFailed
)

func (s RegState) String() string {
	switch s {
	case RegStateRegistering:
		return "Registering"
	case RegStateRegistered:
		return "Registered"
	case RegStateFailed:
		return "Failed"
	}
	return "Unregistered"
}

type AccountConfig struct {
	SipServer string
	Extension string
	Password  string
	// AuthID is digest username. Extension is used when empty
	AuthID      string
	DisplayName string
	Transport   Transport
	// ExpireSeconds is registration expiry. Zero disables registration refresh
	ExpireSeconds    int
	SecureMedia      SecureMedia
	InstanceID       string
	UserAgent        string
	KeepAliveSeconds int
	RingToneFile     string
}

// DefaultAccountConfig returns config with TCP transport, 300s expiry and fresh instance id
func DefaultAccountConfig() AccountConfig {
	return AccountConfig{
		Transport:        TransportTCP,
		ExpireSeconds:    300,
		KeepAliveSeconds: 30,
		InstanceID:       NewInstanceID(),
	}
}

// NewInstanceID generates +sip.instance value
func NewInstanceID() string {
	return "<urn:uuid:" + uuid.NewString() + ">"
}

// Username returns digest username
func (c AccountConfig) Username() string {
	if c.AuthID != "" {
		return c.AuthID
	}
	return c.Extension
}

// AOR returns address of record sip:ext@server
func (c AccountConfig) AOR() string {
	return "sip:" + c.Extension + "@" + c.SipServer
}

func (c AccountConfig) validate() error {
	if strings.TrimSpace(c.SipServer) == "" {
		return fmt.Errorf("empty sip server")
	}
	if strings.TrimSpace(c.Extension) == "" {
		return fmt.Errorf("empty extension")
	}
	if c.ExpireSeconds < 0 {
		return fmt.Errorf("negative expire time %d", c.ExpireSeconds)
	}
	if c.Transport > TransportTLS {
		return fmt.Errorf("unknown transport %d", c.Transport)
	}
	if !c.SecureMedia.valid() {
		return fmt.Errorf("unknown secure media mode %d", c.SecureMedia)
	}
	return nil
}

// AccountUpdate carries fields to merge into existing account. Nil fields are kept.
type AccountUpdate struct {
	Password      *string
	DisplayName   *string
	Transport     *Transport
	ExpireSeconds *int
	SecureMedia   *SecureMedia
	UserAgent     *string
	RingToneFile  *string
}

func (u AccountUpdate) apply(c AccountConfig) AccountConfig {
	if u.Password != nil {
		c.Password = *u.Password
	}
	if u.DisplayName != nil {
		c.DisplayName = *u.DisplayName
	}
	if u.Transport != nil {
		c.Transport = *u.Transport
	}
	if u.ExpireSeconds != nil {
		c.ExpireSeconds = *u.ExpireSeconds
	}
	if u.SecureMedia != nil {
		c.SecureMedia = *u.SecureMedia
	}
	if u.UserAgent != nil {
		c.UserAgent = *u.UserAgent
	}
	if u.RingToneFile != nil {
		c.RingToneFile = *u.RingToneFile
	}
	return c
}

// Account is snapshot of account state
type Account struct {
	ID           AccountID
	Config       AccountConfig
	RegState     RegState
	LastResponse string
}

type account struct {
	id       AccountID
	conf     AccountConfig
	state    RegState
	response string
}

func (a *account) snapshot() Account {
	return Account{
		ID:           a.id,
		Config:       a.conf,
		RegState:     a.state,
		LastResponse: a.response,
	}
}

func (m *Module) setAccountStateUnsafe(a *account, s RegState) {
	m.metrics.accountState(a.state, s)
	a.state = s
}

// AddAccount stores account in Unregistered state. Registration is done with RegisterAccount.
func (m *Module) AddAccount(conf AccountConfig) (AccountID, error) {
	const op = "AddAccount"
	if err := m.checkRunning(op); err != nil {
		return 0, err
	}
	if err := conf.validate(); err != nil {
		return 0, newError(KindInvalidArgument, op, "%s", err)
	}
	if conf.InstanceID == "" {
		conf.InstanceID = NewInstanceID()
	}

	id := AccountID(m.accountIDs.next())
	if id == 0 {
		return 0, newError(KindUnavailable, op, "account ids exhausted")
	}

	m.accMu.Lock()
	m.accounts[id] = &account{id: id, conf: conf, state: RegStateUnregistered}
	m.accMu.Unlock()
	m.metrics.accountAdded(RegStateUnregistered)

	m.log.Info("Account added", "acc_id", id, "aor", conf.AOR(), "transport", conf.Transport.String())
	return id, nil
}

// DeleteAccount removes account. It fails with InUse while any live call references it.
func (m *Module) DeleteAccount(id AccountID) error {
	const op = "DeleteAccount"
	if err := m.checkRunning(op); err != nil {
		return err
	}

	m.accMu.Lock()
	a, exists := m.accounts[id]
	if !exists {
		m.accMu.Unlock()
		return newError(KindNotFound, op, "account %d", id)
	}

	m.callMu.Lock()
	inUse := m.accountInUseUnsafe(id)
	m.callMu.Unlock()
	if inUse {
		m.accMu.Unlock()
		return newError(KindInUse, op, "account %d has active calls", id)
	}

	delete(m.accounts, id)
	wasRegistered := a.state == RegStateRegistered || a.state == RegStateRegistering
	m.metrics.accountRemoved(a.state)
	m.accMu.Unlock()

	if wasRegistered {
		if err := m.engine.SendUnregister(id); err != nil {
			m.log.Error("Failed to unregister deleted account", "acc_id", id, "error", err)
		}
	}
	m.log.Info("Account deleted", "acc_id", id)
	return nil
}

// UpdateAccount merges upd into account config. Registration state is kept.
func (m *Module) UpdateAccount(id AccountID, upd AccountUpdate) error {
	const op = "UpdateAccount"
	if err := m.checkRunning(op); err != nil {
		return err
	}

	m.accMu.Lock()
	defer m.accMu.Unlock()
	a, exists := m.accounts[id]
	if !exists {
		return newError(KindNotFound, op, "account %d", id)
	}

	conf := upd.apply(a.conf)
	if err := conf.validate(); err != nil {
		return newError(KindInvalidArgument, op, "%s", err)
	}
	a.conf = conf
	return nil
}

// RegisterAccount sends REGISTER. Zero expireSeconds uses configured expiry.
// Result is reported with AccountRegStateEvent.
func (m *Module) RegisterAccount(id AccountID, expireSeconds int) error {
	const op = "RegisterAccount"
	if err := m.checkRunning(op); err != nil {
		return err
	}
	if expireSeconds < 0 {
		return newError(KindInvalidArgument, op, "negative expire time %d", expireSeconds)
	}

	m.accMu.Lock()
	a, exists := m.accounts[id]
	if !exists {
		m.accMu.Unlock()
		return newError(KindNotFound, op, "account %d", id)
	}
	if expireSeconds > 0 {
		a.conf.ExpireSeconds = expireSeconds
	}
	m.setAccountStateUnsafe(a, RegStateRegistering)
	conf := a.conf
	m.accMu.Unlock()

	expire := time.Duration(conf.ExpireSeconds) * time.Second
	if err := m.engine.SendRegister(id, conf, expire); err != nil {
		m.log.Error("Failed to send register", "acc_id", id, "error", err)
		m.OnRegistrationResult(id, RegFailed, err.Error())
	}
	return nil
}

// UnregisterAccount moves account to Unregistered and sends REGISTER with zero expiry.
func (m *Module) UnregisterAccount(id AccountID) error {
	const op = "UnregisterAccount"
	if err := m.checkRunning(op); err != nil {
		return err
	}

	m.accMu.Lock()
	a, exists := m.accounts[id]
	if !exists {
		m.accMu.Unlock()
		return newError(KindNotFound, op, "account %d", id)
	}
	m.setAccountStateUnsafe(a, RegStateUnregistered)
	m.accMu.Unlock()

	if err := m.engine.SendUnregister(id); err != nil {
		m.log.Error("Failed to send unregister", "acc_id", id, "error", err)
	}
	return nil
}

// Account returns account snapshot
func (m *Module) Account(id AccountID) (Account, error) {
	m.accMu.Lock()
	defer m.accMu.Unlock()
	a, exists := m.accounts[id]
	if !exists {
		return Account{}, newError(KindNotFound, "Account", "account %d", id)
	}
	return a.snapshot(), nil
}

// Accounts returns all accounts ordered by id
func (m *Module) Accounts() []Account {
	m.accMu.Lock()
	list := make([]Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		list = append(list, a.snapshot())
	}
	m.accMu.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// OnRegistrationResult applies engine registration outcome and notifies observer.
func (m *Module) OnRegistrationResult(id AccountID, result RegResult, response string) {
	m.accMu.Lock()
	a, exists := m.accounts[id]
	if !exists {
		m.accMu.Unlock()
		m.log.Debug("Registration result for unknown account", "acc_id", id)
		return
	}

	switch result {
	case RegSuccess:
		if a.state == RegStateRegistering || a.state == RegStateRegistered {
			m.setAccountStateUnsafe(a, RegStateRegistered)
		}
	case RegFailed:
		if a.state == RegStateRegistering || a.state == RegStateRegistered {
			m.setAccountStateUnsafe(a, RegStateFailed)
		}
	case RegRemoved:
		m.setAccountStateUnsafe(a, RegStateUnregistered)
	}
	a.response = response
	m.events.publish(AccountRegStateEvent{
		AccountID: id,
		Result:    result,
		State:     a.state,
		Response:  response,
	})
	m.accMu.Unlock()
}
