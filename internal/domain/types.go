// Package domain holds the core orderdesk entities shared by the stores and the workflow engine.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Account is an identity-provisioned customer.
type Account struct {
	ID          string    `json:"id" db:"id"`
	DisplayName string    `json:"display_name" db:"display_name"`
	Email       string    `json:"email" db:"email"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// EntryType classifies ledger entries.
type EntryType string

const (
	EntryTypeDebit  EntryType = "debit"
	EntryTypeCredit EntryType = "credit"
)

// LedgerEntry is a committed balance change. Reference is unique per account.
type LedgerEntry struct {
	ID           string    `json:"id" db:"id"`
	AccountID    string    `json:"account_id" db:"account_id"`
	EntryType    EntryType `json:"entry_type" db:"entry_type"`
	Amount       int64     `json:"amount" db:"amount"`
	BalanceAfter int64     `json:"balance_after" db:"balance_after"`
	Reference    string    `json:"reference" db:"reference"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// ServiceKind is the kind of work an order requests.
type ServiceKind string

const (
	PlagiarismCheck       ServiceKind = "plagiarism_check"
	CourseHeroUnlock      ServiceKind = "course_hero_unlock"
	ResearchLibraryUnlock ServiceKind = "research_library_unlock"
	AiRemoval             ServiceKind = "ai_removal"
)

// ServiceKinds lists every supported kind.
var ServiceKinds = []ServiceKind{PlagiarismCheck, CourseHeroUnlock, ResearchLibraryUnlock, AiRemoval}

// ParseServiceKind parses a kind name.
func ParseServiceKind(s string) (ServiceKind, error) {
	k := ServiceKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range ServiceKinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown service kind %q", ErrInvalidInput, s)
}

// RequiresFile reports whether the kind takes an uploaded document as input.
func (k ServiceKind) RequiresFile() bool {
	return k == PlagiarismCheck || k == AiRemoval
}

// RequiresScores reports whether a result for the kind carries AI and plagiarism percentages.
func (k ServiceKind) RequiresScores() bool {
	return k == PlagiarismCheck
}

// OrderState is the lifecycle state of an order.
type OrderState string

const (
	StateCreated   OrderState = "created"
	StatePaid      OrderState = "paid"
	StateFulfilled OrderState = "fulfilled"
	StateFailed    OrderState = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s OrderState) Terminal() bool {
	return s == StateFulfilled || s == StateFailed
}

// CanTransition reports whether from -> to is an edge of the order state machine.
func CanTransition(from, to OrderState) bool {
	switch from {
	case StateCreated:
		return to == StatePaid || to == StateFailed
	case StatePaid:
		return to == StateFulfilled
	}
	return false
}

// Order is a requested unit of service work.
type Order struct {
	ID            string      `json:"id" db:"id"`
	AccountID     string      `json:"account_id" db:"account_id"`
	Kind          ServiceKind `json:"kind" db:"kind"`
	Name          string      `json:"name" db:"name"`
	InputRef      string      `json:"input_ref,omitempty" db:"input_ref"`
	Price         int64       `json:"price" db:"price"`
	State         OrderState  `json:"state" db:"state"`
	SubmitKey     string      `json:"-" db:"submit_key"`
	FailureReason string      `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at" db:"updated_at"`
}

// Result is the outcome an administrator supplies for a paid order.
type Result struct {
	OrderID     string           `json:"order_id"`
	AIScore     *decimal.Decimal `json:"ai_score,omitempty"`
	PlagScore   *decimal.Decimal `json:"plag_score,omitempty"`
	ReportPaths []string         `json:"report_paths"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Notification is a user-visible event.
type Notification struct {
	ID        string    `json:"id" db:"id"`
	AccountID string    `json:"account_id" db:"account_id"`
	Message   string    `json:"message" db:"message"`
	Read      bool      `json:"read" db:"is_read"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Stats summarizes the order book for the admin dashboard.
type Stats struct {
	Accounts int64                `json:"accounts"`
	ByState  map[OrderState]int64 `json:"by_state"`
	Total    int64                `json:"total"`
	Revenue  int64                `json:"revenue"`
}

var hundred = decimal.NewFromInt(100)

// ParsePercent parses values like "12%", "12" or "4.5 %" into a percentage in [0, 100].
func ParsePercent(s string) (decimal.Decimal, error) {
	raw := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if raw == "" {
		return decimal.Zero, fmt.Errorf("%w: empty percentage", ErrInvalidInput)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: percentage %q: %v", ErrInvalidInput, s, err)
	}
	if d.IsNegative() || d.GreaterThan(hundred) {
		return decimal.Zero, fmt.Errorf("%w: percentage %q out of range", ErrInvalidInput, s)
	}
	return d, nil
}

// Page is an offset-based page request. Page numbers start at 1.
type Page struct {
	Number int
	Size   int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// NewPage normalizes a page request.
func NewPage(number, size int) Page {
	if number < 1 {
		number = 1
	}
	if size < 1 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return Page{Number: number, Size: size}
}

// Offset returns the number of rows to skip.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

// Slice returns the bounds of the page within n items.
func (p Page) Slice(n int) (int, int) {
	start := p.Offset()
	if start > n {
		start = n
	}
	end := start + p.Size
	if end > n {
		end = n
	}
	return start, end
}
