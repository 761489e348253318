// Package order holds the business payload sold during a call.
package order

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

// ErrInvalid is returned when an order record fails validation
var ErrInvalid = errors.New("invalid order")

// Kind is the order type
type Kind string

const (
	KindNewLine      Kind = "new_line"
	KindExistingLine Kind = "existing_line"
	KindCash         Kind = "cash"
)

// LineKind is the type of line the order is attached to
type LineKind string

const (
	LineMobile LineKind = "mobile"
	LineFiber  LineKind = "fiber"
)

// FinancialType is how the device is paid for
type FinancialType string

const (
	FinancialInstallment FinancialType = "INSTALLMENT"
	FinancialSubsidy     FinancialType = "SUBSIDY"
)

// Customer identifies the account holder
type Customer struct {
	Name              string `json:"name"`
	NationalID        string `json:"cpr"`
	Mobile            string `json:"mobile"`
	PreferredLanguage string `json:"preferred_language,omitempty"`
}

// Line describes the existing or new line
type Line struct {
	Kind      LineKind `json:"type"`
	Number    string   `json:"number,omitempty"`
	SubNumber string   `json:"sub_number,omitempty"`
}

// Device is the handset or router being sold
type Device struct {
	Name    string `json:"name"`
	Variant string `json:"variant"`
	Color   string `json:"color"`
}

// Plan is the tariff plan and its commitment term in months
type Plan struct {
	Name       string `json:"name"`
	Commitment string `json:"selected_commitment"`
}

// Financial holds the amounts read back to the customer
type Financial struct {
	Type    FinancialType `json:"type"`
	Monthly Amount        `json:"monthly"`
	Advance Amount        `json:"advance"`
	Upfront Amount        `json:"upfront"`
	VAT     Amount        `json:"vat"`
	Total   Amount        `json:"total"`
}

// Record is the immutable order payload of one session
type Record struct {
	ID                   string    `json:"order_id"`
	Customer             Customer  `json:"customer"`
	Kind                 Kind      `json:"order_type"`
	Line                 Line      `json:"line_details"`
	Device               *Device   `json:"device,omitempty"`
	Plan                 *Plan     `json:"plan,omitempty"`
	Financial            Financial `json:"financial"`
	Accessories          []string  `json:"accessories"`
	CreditControlOptions []string  `json:"credit_control_options"`
}

// Decode parses an order JSON document, fills defaults and validates it
func Decode(data []byte) (*Record, error) {
	var rec Record
	if err := sonic.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	rec.applyDefaults()
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Encode serializes the record as JSON
func (r *Record) Encode() ([]byte, error) {
	return sonic.Marshal(r)
}

func (r *Record) applyDefaults() {
	if strings.TrimSpace(r.ID) == "" {
		r.ID = "ORDER-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}
	if r.Kind == "" {
		r.Kind = KindNewLine
	}
	if r.Line.Kind == "" {
		r.Line.Kind = LineMobile
	}
	if r.Financial.Type == "" {
		r.Financial.Type = FinancialInstallment
	}
	if r.Accessories == nil {
		r.Accessories = []string{}
	}
}

// Validate checks enumerations and amounts
func (r *Record) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: order_id is required", ErrInvalid)
	}

	switch r.Kind {
	case KindNewLine, KindExistingLine, KindCash:
	default:
		return fmt.Errorf("%w: unknown order_type %q", ErrInvalid, r.Kind)
	}

	switch r.Line.Kind {
	case LineMobile, LineFiber:
	default:
		return fmt.Errorf("%w: unknown line type %q", ErrInvalid, r.Line.Kind)
	}

	switch r.Financial.Type {
	case FinancialInstallment, FinancialSubsidy:
	default:
		return fmt.Errorf("%w: unknown financial type %q", ErrInvalid, r.Financial.Type)
	}

	if r.Plan != nil {
		switch r.Plan.Commitment {
		case "", "12", "18", "24":
		default:
			return fmt.Errorf("%w: commitment must be 12, 18 or 24 months, got %q", ErrInvalid, r.Plan.Commitment)
		}
	}

	amounts := map[string]Amount{
		"monthly": r.Financial.Monthly,
		"advance": r.Financial.Advance,
		"upfront": r.Financial.Upfront,
		"vat":     r.Financial.VAT,
		"total":   r.Financial.Total,
	}
	for name, a := range amounts {
		if a < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalid, name)
		}
	}

	return nil
}

// HasDevice reports whether a device is part of the order. An empty
// device object counts as no device.
func (r *Record) HasDevice() bool {
	return r.Device != nil && *r.Device != Device{}
}
