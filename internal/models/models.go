package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID         int64
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
	Balance    decimal.Decimal
	Privileged bool
	Banned     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ParamSpec describes one accepted input parameter of a catalog model.
type ParamSpec struct {
	Name      string   `json:"name"`
	Type      string   `json:"type"` // string, number, boolean, array
	Required  bool     `json:"required"`
	Enum      []string `json:"enum,omitempty"`
	Default   string   `json:"default,omitempty"`
	MaxLength int      `json:"max_length,omitempty"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	Prompt    string   `json:"prompt,omitempty"` // question shown when collecting this parameter
}

// Model is a catalog entry. The catalog is owned by an external
// collaborator and read-only to the core; BaseCredits is invalid when
// the model declares no pricing information.
type Model struct {
	ID           string
	Name         string
	Category     string
	ProviderType string
	BaseCredits  decimal.NullDecimal
	Params       []ParamSpec
}

// Param returns the spec of a named parameter, or nil.
func (m *Model) Param(name string) *ParamSpec {
	for i := range m.Params {
		if m.Params[i].Name == name {
			return &m.Params[i]
		}
	}
	return nil
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentApproved PaymentStatus = "approved"
	PaymentRejected PaymentStatus = "rejected"
)

// PaymentRequest is a manually submitted recharge claim. Immutable once
// resolved.
type PaymentRequest struct {
	ID          int64
	UserID      int64
	Amount      decimal.Decimal
	EvidenceRef string
	Status      PaymentStatus
	ResolvedBy  *int64
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}

// Settings holds the mutable pricing knobs. A snapshot is passed into the
// pricing engine so price calculation stays pure.
type Settings struct {
	CreditUSD    decimal.Decimal // USD per one provider credit unit
	ExchangeRate decimal.Decimal // billing currency per USD
	Markup       decimal.Decimal // multiplier applied for non-privileged users
	UpdatedAt    time.Time
}
