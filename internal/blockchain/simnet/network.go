// Package simnet is an in-process chain network implementing the blockchain SDK
// contracts. The host process uses it in dev mode and tests use it as a chain that
// behaves like the real one: accounts must be created on chain and hold a trustline
// before they can transact.
package simnet

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/matheusmosca/offers-marketplace/internal/blockchain"
)

type chainAccount struct {
	balance   decimal.Decimal
	trustline bool
}

type listeners struct {
	creation map[uint64]func()
	balance  map[uint64]func(decimal.Decimal)
	payments map[uint64]func(blockchain.PaymentInfo)
}

// Options tune how the network reacts to new local accounts.
type Options struct {
	// AutoCreate creates every new local account on chain after CreationDelay,
	// standing in for the backend that onboards wallets.
	AutoCreate      bool
	CreationDelay   time.Duration
	StartingBalance decimal.Decimal
}

type Network struct {
	opts Options

	mu        sync.Mutex
	accounts  map[string]*chainAccount
	listeners map[string]*listeners
	nextID    uint64
}

func NewNetwork(opts Options) *Network {
	return &Network{
		opts:      opts,
		accounts:  make(map[string]*chainAccount),
		listeners: make(map[string]*listeners),
	}
}

// CreateAccount puts address on chain and fires its creation listeners.
func (n *Network) CreateAccount(address string, balance decimal.Decimal) {
	n.mu.Lock()
	if _, ok := n.accounts[address]; ok {
		n.mu.Unlock()
		return
	}
	n.accounts[address] = &chainAccount{balance: balance}
	callbacks := n.creationCallbacks(address)
	n.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

// Exists reports whether address was created on chain.
func (n *Network) Exists(address string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.accounts[address]
	return ok
}

// Transfer moves amount between two activated accounts and notifies both sides.
func (n *Network) Transfer(from, to string, amount decimal.Decimal, memo string) (string, error) {
	n.mu.Lock()
	src, ok := n.accounts[from]
	if !ok {
		n.mu.Unlock()
		return "", blockchain.ErrAccountNotFound
	}
	dst, ok := n.accounts[to]
	if !ok {
		n.mu.Unlock()
		return "", blockchain.ErrAccountNotFound
	}
	if !src.trustline || !dst.trustline {
		n.mu.Unlock()
		return "", blockchain.ErrAccountNotActivated
	}
	if src.balance.LessThan(amount) {
		n.mu.Unlock()
		return "", blockchain.ErrInsufficientFunds
	}
	src.balance = src.balance.Sub(amount)
	dst.balance = dst.balance.Add(amount)

	info := blockchain.PaymentInfo{
		Hash:               strings.ReplaceAll(uuid.NewString(), "-", ""),
		Memo:               memo,
		SourceAddress:      from,
		DestinationAddress: to,
		Amount:             amount,
		CreatedAt:          time.Now(),
	}
	type balanceUpdate struct {
		fns     []func(decimal.Decimal)
		balance decimal.Decimal
	}
	updates := []balanceUpdate{
		{fns: n.balanceCallbacks(from), balance: src.balance},
		{fns: n.balanceCallbacks(to), balance: dst.balance},
	}
	payments := append(n.paymentCallbacks(from), n.paymentCallbacks(to)...)
	n.mu.Unlock()

	for _, u := range updates {
		for _, fn := range u.fns {
			fn(u.balance)
		}
	}
	for _, fn := range payments {
		fn(info)
	}
	return info.Hash, nil
}

func (n *Network) balanceOf(address string) (decimal.Decimal, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	acc, ok := n.accounts[address]
	if !ok {
		return decimal.Zero, blockchain.ErrAccountNotFound
	}
	if !acc.trustline {
		return decimal.Zero, blockchain.ErrAccountNotActivated
	}
	return acc.balance, nil
}

// Activate establishes the trustline of address.
func (n *Network) Activate(address string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	acc, ok := n.accounts[address]
	if !ok {
		return blockchain.ErrAccountNotFound
	}
	acc.trustline = true
	return nil
}

func (n *Network) listenersOf(address string) *listeners {
	l, ok := n.listeners[address]
	if !ok {
		l = &listeners{
			creation: make(map[uint64]func()),
			balance:  make(map[uint64]func(decimal.Decimal)),
			payments: make(map[uint64]func(blockchain.PaymentInfo)),
		}
		n.listeners[address] = l
	}
	return l
}

func (n *Network) creationCallbacks(address string) []func() {
	var out []func()
	for _, fn := range n.listenersOf(address).creation {
		out = append(out, fn)
	}
	return out
}

func (n *Network) balanceCallbacks(address string) []func(decimal.Decimal) {
	var out []func(decimal.Decimal)
	for _, fn := range n.listenersOf(address).balance {
		out = append(out, fn)
	}
	return out
}

func (n *Network) paymentCallbacks(address string) []func(blockchain.PaymentInfo) {
	var out []func(blockchain.PaymentInfo)
	for _, fn := range n.listenersOf(address).payments {
		out = append(out, fn)
	}
	return out
}

type registration struct {
	once   sync.Once
	remove func()
}

func (r *registration) Remove() {
	r.once.Do(r.remove)
}

func (n *Network) register(address string, add func(l *listeners, id uint64), del func(l *listeners, id uint64)) blockchain.Registration {
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	add(n.listenersOf(address), id)
	n.mu.Unlock()

	return &registration{remove: func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		del(n.listenersOf(address), id)
	}}
}

func (n *Network) watchCreation(address string, fn func()) blockchain.Registration {
	reg := n.register(address,
		func(l *listeners, id uint64) { l.creation[id] = fn },
		func(l *listeners, id uint64) { delete(l.creation, id) })
	if n.Exists(address) {
		go fn()
	}
	return reg
}

func (n *Network) watchBalance(address string, fn func(decimal.Decimal)) blockchain.Registration {
	return n.register(address,
		func(l *listeners, id uint64) { l.balance[id] = fn },
		func(l *listeners, id uint64) { delete(l.balance, id) })
}

func (n *Network) watchPayments(address string, fn func(blockchain.PaymentInfo)) blockchain.Registration {
	return n.register(address,
		func(l *listeners, id uint64) { l.payments[id] = fn },
		func(l *listeners, id uint64) { delete(l.payments, id) })
}

// Account is a local keypair bound to the network.
type Account struct {
	network *Network
	address string
}

func (a *Account) PublicAddress() string { return a.address }

func (a *Account) Balance(_ context.Context) (decimal.Decimal, error) {
	return a.network.balanceOf(a.address)
}

func (a *Account) SendTransaction(ctx context.Context, to string, amount decimal.Decimal, memo string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return a.network.Transfer(a.address, to, amount, memo)
}

func (a *Account) ActivateTrustline(_ context.Context) error {
	return a.network.Activate(a.address)
}

func (a *Account) WatchCreation(fn func()) blockchain.Registration {
	return a.network.watchCreation(a.address, fn)
}

func (a *Account) WatchBalance(fn func(decimal.Decimal)) blockchain.Registration {
	return a.network.watchBalance(a.address, fn)
}

func (a *Account) WatchPayments(fn func(blockchain.PaymentInfo)) blockchain.Registration {
	return a.network.watchPayments(a.address, fn)
}
