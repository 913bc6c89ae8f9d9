package kvstore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

const (
	keyAccountState    = "account_state"
	keyBalance         = "balance"
	keyTrustline       = "trustline_established"
	keyFirstSpendOrder = "first_spend_order"
	keyBackedUp        = "backed_up"
)

// Settings gives typed access to the values the SDK persists between runs.
// Keys are namespaced so several users can share one store.
type Settings struct {
	store     Store
	namespace string
}

func NewSettings(store Store, namespace string) *Settings {
	return &Settings{store: store, namespace: namespace}
}

func (s *Settings) key(name string) string {
	if s.namespace == "" {
		return name
	}
	return s.namespace + ":" + name
}

// AccountState returns the persisted provisioning state ordinal.
func (s *Settings) AccountState(ctx context.Context) (int, bool, error) {
	raw, ok, err := s.store.Get(ctx, s.key(keyAccountState))
	if err != nil || !ok {
		return 0, false, err
	}
	state, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("corrupted account state %q: %w", raw, err)
	}
	return state, true, nil
}

func (s *Settings) SetAccountState(ctx context.Context, state int) error {
	return s.store.Set(ctx, s.key(keyAccountState), strconv.Itoa(state))
}

// Balance returns the cached balance, zero when nothing was stored.
func (s *Settings) Balance(ctx context.Context) (decimal.Decimal, error) {
	raw, ok, err := s.store.Get(ctx, s.key(keyBalance))
	if err != nil || !ok {
		return decimal.Zero, err
	}
	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupted balance %q: %w", raw, err)
	}
	return balance, nil
}

func (s *Settings) SetBalance(ctx context.Context, balance decimal.Decimal) error {
	return s.store.Set(ctx, s.key(keyBalance), balance.String())
}

func (s *Settings) TrustlineEstablished(ctx context.Context) (bool, error) {
	return s.flag(ctx, keyTrustline)
}

func (s *Settings) SetTrustlineEstablished(ctx context.Context, established bool) error {
	return s.setOrClear(ctx, keyTrustline, established)
}

// FirstSpendOrder reports whether the user has never submitted a spend order.
func (s *Settings) FirstSpendOrder(ctx context.Context) (bool, error) {
	_, ok, err := s.store.Get(ctx, s.key(keyFirstSpendOrder))
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return s.flag(ctx, keyFirstSpendOrder)
}

func (s *Settings) SetFirstSpendOrder(ctx context.Context, first bool) error {
	return s.setFlag(ctx, keyFirstSpendOrder, first)
}

// BackedUp reports whether the user confirmed a backup of the active wallet.
func (s *Settings) BackedUp(ctx context.Context) (bool, error) {
	return s.flag(ctx, keyBackedUp)
}

func (s *Settings) SetBackedUp(ctx context.Context, backedUp bool) error {
	return s.setOrClear(ctx, keyBackedUp, backedUp)
}

func (s *Settings) flag(ctx context.Context, name string) (bool, error) {
	raw, ok, err := s.store.Get(ctx, s.key(name))
	if err != nil || !ok {
		return false, err
	}
	return raw == "true", nil
}

func (s *Settings) setFlag(ctx context.Context, name string, value bool) error {
	return s.store.Set(ctx, s.key(name), strconv.FormatBool(value))
}

// setOrClear stores a flag that reads false when absent, deleting the key
// instead of writing false.
func (s *Settings) setOrClear(ctx context.Context, name string, value bool) error {
	if !value {
		return s.store.Delete(ctx, s.key(name))
	}
	return s.setFlag(ctx, name, true)
}
