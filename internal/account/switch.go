package account

import (
	"context"
	"fmt"
	"log"

	"github.com/matheusmosca/offers-marketplace/internal/apperrors"
)

// SwitchAccount makes the local account at index the active wallet, e.g. after
// restoring a backup. The backend must confirm the address is restorable by this
// application, the migration must produce a client for it and the backend must
// accept the new address before the active account changes. Any failure deletes
// the imported local account. On success provisioning restarts for the new wallet.
func (m *Manager) SwitchAccount(ctx context.Context, index int) error {
	m.mu.Lock()
	started, state := m.started, m.state
	m.mu.Unlock()
	if !started {
		return apperrors.Client(apperrors.CodeSDKNotStarted, "account manager not started", nil)
	}
	if state != StateCreationCompleted && state != StateError {
		return apperrors.Client(apperrors.CodeInternalInconsistency,
			fmt.Sprintf("cannot switch account while provisioning is %s", state), nil)
	}

	address, err := m.gateway.AddressAt(index)
	if err != nil {
		return err
	}
	log.Printf("➡️ [SWITCH ACCOUNT] Index=%d | Address=%s", index, address)

	fail := func(err error) error {
		log.Printf("❌ [SWITCH ACCOUNT] Index=%d | Error=%v", index, err)
		if index != m.gateway.AccountIndex() {
			if delErr := m.gateway.DeleteAccount(index); delErr != nil {
				log.Printf("⚠️  [SWITCH ACCOUNT] Could not delete imported account | Index=%d | Error=%v", index, delErr)
			}
		}
		return err
	}

	restorable, err := m.auth.IsRestorable(ctx, address)
	if err != nil {
		return fail(err)
	}
	if !restorable {
		return fail(apperrors.Client(apperrors.CodeWalletNotRestorable,
			fmt.Sprintf("wallet %s cannot be restored by this application", address), nil))
	}

	client, err := m.migrator.Migrate(ctx, index)
	if err != nil {
		return fail(apperrors.Blockchain(apperrors.CodeMigrationFailed, "migrating account", err))
	}

	if err := m.auth.UpdateWalletAddress(ctx, address); err != nil {
		return fail(err)
	}

	if err := m.gateway.SetActiveAccount(ctx, client, index); err != nil {
		return fail(err)
	}

	m.mu.Lock()
	gen := m.generation
	m.mu.Unlock()
	m.advance(gen, StateRequireCreation, nil)

	log.Printf("✅ [SWITCH ACCOUNT] Active wallet switched | Index=%d | Address=%s", index, address)
	return nil
}
