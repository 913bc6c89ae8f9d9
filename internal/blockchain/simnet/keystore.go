package simnet

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/matheusmosca/offers-marketplace/internal/blockchain"
)

// Keystore holds local accounts and implements blockchain.Client.
type Keystore struct {
	network *Network

	mu       sync.Mutex
	accounts []*Account
}

func (n *Network) NewKeystore() *Keystore {
	return &Keystore{network: n}
}

func (k *Keystore) AccountCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.accounts)
}

func (k *Keystore) Account(index int) (blockchain.Account, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if index < 0 || index >= len(k.accounts) {
		return nil, fmt.Errorf("%w: %d", blockchain.ErrNoLocalAccount, index)
	}
	return k.accounts[index], nil
}

func (k *Keystore) AddAccount() (blockchain.Account, error) {
	return k.Import("G" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))), nil
}

// Import adds a local account for an existing address, as a restored backup would.
func (k *Keystore) Import(address string) *Account {
	account := &Account{network: k.network, address: address}
	k.mu.Lock()
	k.accounts = append(k.accounts, account)
	k.mu.Unlock()

	if opts := k.network.opts; opts.AutoCreate {
		time.AfterFunc(opts.CreationDelay, func() {
			k.network.CreateAccount(address, opts.StartingBalance)
		})
	}
	return account
}

func (k *Keystore) DeleteAccount(index int) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if index < 0 || index >= len(k.accounts) {
		return fmt.Errorf("%w: %d", blockchain.ErrNoLocalAccount, index)
	}
	k.accounts = append(k.accounts[:index], k.accounts[index+1:]...)
	return nil
}
