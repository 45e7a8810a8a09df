// Package ledger stores per-account balances as idempotent debit and credit entries.
//
// Every mutation carries a caller-supplied reference that is unique per account.
// Replaying a reference returns the entry it produced the first time; reusing it
// with a different amount or direction fails with domain.ErrReferenceMismatch.
package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/onlab/orderdesk/internal/domain"
)

// ReversalPrefix tags the credit that compensates a debit.
const ReversalPrefix = "reversal:"

// Store is the ledger contract used by the workflow engine.
type Store interface {
	// Open creates a zero-balance ledger for the account. It is idempotent.
	Open(ctx context.Context, accountID string) error
	GetBalance(ctx context.Context, accountID string) (int64, error)
	// Debit fails with domain.ErrInsufficientFunds without applying anything when amount exceeds the balance.
	Debit(ctx context.Context, accountID string, amount int64, reference string) (*domain.LedgerEntry, error)
	Credit(ctx context.Context, accountID string, amount int64, reference string) (*domain.LedgerEntry, error)
	// Lookup returns the entry recorded under reference, or domain.ErrNotFound.
	Lookup(ctx context.Context, accountID, reference string) (*domain.LedgerEntry, error)
	// Reverse credits back the debit recorded under reference exactly once.
	// applied is false when no such debit was ever committed or when it was
	// already reversed; the earlier reversal entry is returned then.
	Reverse(ctx context.Context, accountID, reference string) (entry *domain.LedgerEntry, applied bool, err error)
	Entries(ctx context.Context, accountID string, page domain.Page) ([]domain.LedgerEntry, int, error)
}

// ReversalReference returns the reference used to compensate the debit tagged reference.
func ReversalReference(reference string) string {
	return ReversalPrefix + reference
}

func validate(accountID string, amount int64, reference string) error {
	if strings.TrimSpace(accountID) == "" {
		return fmt.Errorf("%w: account id is required", domain.ErrInvalidInput)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive, got %d", domain.ErrInvalidInput, amount)
	}
	if strings.TrimSpace(reference) == "" {
		return fmt.Errorf("%w: reference is required", domain.ErrInvalidInput)
	}
	return nil
}

// checkReplay compares a recorded entry against a new request under the same reference.
func checkReplay(existing *domain.LedgerEntry, entryType domain.EntryType, amount int64) error {
	if existing.EntryType != entryType || existing.Amount != amount {
		return fmt.Errorf("%w: reference %q recorded as %s of %d", domain.ErrReferenceMismatch,
			existing.Reference, existing.EntryType, existing.Amount)
	}
	return nil
}

// reverse is shared by the store implementations.
func reverse(ctx context.Context, s Store, accountID, reference string) (*domain.LedgerEntry, bool, error) {
	if strings.HasPrefix(reference, ReversalPrefix) {
		return nil, false, fmt.Errorf("%w: cannot reverse a reversal", domain.ErrInvalidInput)
	}

	debit, err := s.Lookup(ctx, accountID, reference)
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if debit.EntryType != domain.EntryTypeDebit {
		return nil, false, fmt.Errorf("%w: reference %q is not a debit", domain.ErrReferenceMismatch, reference)
	}

	prior, err := s.Lookup(ctx, accountID, ReversalReference(reference))
	switch {
	case err == nil:
		if err := checkReplay(prior, domain.EntryTypeCredit, debit.Amount); err != nil {
			return nil, false, err
		}
		return prior, false, nil
	case !isNotFound(err):
		return nil, false, err
	}

	entry, err := s.Credit(ctx, accountID, debit.Amount, ReversalReference(reference))
	if err != nil {
		return nil, false, err
	}
	return entry, true, nil
}
