package contract

import (
	"fmt"
	"time"
)

// Status of a practitioner contract.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusEnded     Status = "ended"
	StatusCancelled Status = "cancelled"
)

// Plan is a commercial offer a practitioner subscribes to. Amounts are in
// cents and the commission rate in basis points.
type Plan struct {
	Code          string `yaml:"code" json:"code"`
	Label         string `yaml:"label" json:"label"`
	MonthlyFee    int64  `yaml:"monthly_fee" json:"monthly_fee"`
	CommissionBPS int64  `yaml:"commission_bps" json:"commission_bps"`
	MinCommission int64  `yaml:"min_commission" json:"min_commission"`
	MaxCommission int64  `yaml:"max_commission" json:"max_commission"`
}

// Commission returns the platform share of amount. MaxCommission of zero
// means no cap. The result never exceeds amount.
func (p Plan) Commission(amount int64) int64 {
	if amount <= 0 {
		return 0
	}
	c := amount * p.CommissionBPS / 10000
	if c < p.MinCommission {
		c = p.MinCommission
	}
	if p.MaxCommission > 0 && c > p.MaxCommission {
		c = p.MaxCommission
	}
	if c > amount {
		c = amount
	}
	return c
}

// Validate checks the plan definition.
func (p Plan) Validate() error {
	switch {
	case p.Code == "":
		return fmt.Errorf("plan code is required")
	case p.CommissionBPS < 0 || p.CommissionBPS > 10000:
		return fmt.Errorf("plan %s: commission_bps must be within 0..10000", p.Code)
	case p.MinCommission < 0 || p.MaxCommission < 0 || p.MonthlyFee < 0:
		return fmt.Errorf("plan %s: amounts must not be negative", p.Code)
	case p.MaxCommission > 0 && p.MinCommission > p.MaxCommission:
		return fmt.Errorf("plan %s: min_commission exceeds max_commission", p.Code)
	}
	return nil
}

// Catalog is the set of plans offered, with the plan assigned to new
// practitioners.
type Catalog struct {
	Default string `yaml:"default"`
	Plans   []Plan `yaml:"plans"`
}

// Lookup returns the plan with the given code.
func (c Catalog) Lookup(code string) (Plan, bool) {
	for _, p := range c.Plans {
		if p.Code == code {
			return p, true
		}
	}
	return Plan{}, false
}

// DefaultPlan returns the plan assigned on practitioner sign up.
func (c Catalog) DefaultPlan() Plan {
	p, _ := c.Lookup(c.Default)
	return p
}

// Validate checks every plan and the default reference.
func (c Catalog) Validate() error {
	if len(c.Plans) == 0 {
		return fmt.Errorf("plan catalog is empty")
	}
	seen := make(map[string]bool, len(c.Plans))
	for _, p := range c.Plans {
		if err := p.Validate(); err != nil {
			return err
		}
		if seen[p.Code] {
			return fmt.Errorf("duplicate plan code %s", p.Code)
		}
		seen[p.Code] = true
	}
	if !seen[c.Default] {
		return fmt.Errorf("default plan %q is not defined", c.Default)
	}
	return nil
}

// Contract binds a practitioner to a plan over a period. At most one contract
// per practitioner is active at any time.
type Contract struct {
	ID             string     `json:"id" db:"id"`
	PractitionerID string     `json:"practitioner_id" db:"practitioner_id"`
	PlanCode       string     `json:"plan" db:"plan_code"`
	Status         Status     `json:"status" db:"status"`
	StartDate      time.Time  `json:"start_date" db:"start_date"`
	EndDate        *time.Time `json:"end_date,omitempty" db:"end_date"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// Due reports whether a pending contract should be activated at now.
func (c Contract) Due(now time.Time) bool {
	return c.Status == StatusPending && !DateOf(c.StartDate).After(DateOf(now))
}

// DateOf truncates t to midnight in its own location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
