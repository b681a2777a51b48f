/*
Package factory converts declarative fixtures into billing records.

PURPOSE:
  Loads a book of business (contacts, policies, payments) from YAML or JSON
  and creates it through billing.Accounting, so fixtures go through the
  same validation and invoice generation as API calls.

FIXTURE SCHEMA:
  contacts:
    - key: anna-white          # fixture-local reference, names may repeat
      name: Anna White
      role: Named Insured      # "Agent" or "Named Insured"
  policies:
    - number: Policy Two
      effective_date: 2015-02-01
      annual_premium: "1600"
      billing_schedule: Quarterly
      named_insured: anna-white
      agent: joe-lee
  payments:
    - policy: Policy Two       # policy number
      contact: anna-white      # optional, defaults to the named insured
      date: 2015-02-01
      amount: "400"

  JSON is accepted too: it is a subset of YAML.

USAGE:
  fx, err := factory.ParseFixture(data)
  res, err := factory.NewLoader(acct).Load(ctx, fx)

  // The built-in demo data
  res, err := factory.NewLoader(acct).LoadSeed(ctx)

SEE ALSO:
  - seed.yaml: Demo data
  - billing/accounting.go: Operations the loader calls
*/
package factory

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/warp/policy-billing/billing"
	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var seedFixture []byte

// =============================================================================
// FIXTURE SCHEMA TYPES
// =============================================================================

type Fixture struct {
	Contacts []ContactFixture `yaml:"contacts" json:"contacts"`
	Policies []PolicyFixture  `yaml:"policies" json:"policies"`
	Payments []PaymentFixture `yaml:"payments" json:"payments"`
}

type ContactFixture struct {
	Key  string `yaml:"key" json:"key"`
	Name string `yaml:"name" json:"name"`
	Role string `yaml:"role" json:"role"`
}

type PolicyFixture struct {
	Number          string `yaml:"number" json:"number"`
	EffectiveDate   string `yaml:"effective_date" json:"effective_date"`
	AnnualPremium   string `yaml:"annual_premium" json:"annual_premium"`
	BillingSchedule string `yaml:"billing_schedule,omitempty" json:"billing_schedule,omitempty"`
	NamedInsured    string `yaml:"named_insured,omitempty" json:"named_insured,omitempty"`
	Agent           string `yaml:"agent,omitempty" json:"agent,omitempty"`
}

type PaymentFixture struct {
	Policy  string `yaml:"policy" json:"policy"`
	Contact string `yaml:"contact,omitempty" json:"contact,omitempty"`
	Date    string `yaml:"date" json:"date"`
	Amount  string `yaml:"amount" json:"amount"`
}

// ParseFixture decodes a YAML or JSON fixture and checks its references.
func ParseFixture(data []byte) (*Fixture, error) {
	var fx Fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("invalid fixture: %w", err)
	}
	if err := fx.Validate(); err != nil {
		return nil, err
	}
	return &fx, nil
}

// Validate checks that every reference resolves within the fixture.
func (fx *Fixture) Validate() error {
	keys := make(map[string]bool, len(fx.Contacts))
	for i, c := range fx.Contacts {
		if c.Key == "" {
			return fmt.Errorf("contacts[%d]: key is required", i)
		}
		if keys[c.Key] {
			return fmt.Errorf("contacts[%d]: duplicate key %q", i, c.Key)
		}
		keys[c.Key] = true
	}

	numbers := make(map[string]bool, len(fx.Policies))
	for i, p := range fx.Policies {
		if p.Number == "" {
			return fmt.Errorf("policies[%d]: number is required", i)
		}
		numbers[p.Number] = true
		for _, ref := range []string{p.NamedInsured, p.Agent} {
			if ref != "" && !keys[ref] {
				return fmt.Errorf("policies[%d]: unknown contact %q", i, ref)
			}
		}
	}

	for i, p := range fx.Payments {
		if !numbers[p.Policy] {
			return fmt.Errorf("payments[%d]: unknown policy %q", i, p.Policy)
		}
		if p.Contact != "" && !keys[p.Contact] {
			return fmt.Errorf("payments[%d]: unknown contact %q", i, p.Contact)
		}
	}
	return nil
}

// =============================================================================
// CONVERSION
// =============================================================================

// ToNewPolicy converts the fixture entry, resolving contact keys with ids.
func (pf PolicyFixture) ToNewPolicy(ids map[string]billing.ContactID) (billing.NewPolicy, error) {
	eff, err := billing.ParseDate(pf.EffectiveDate)
	if err != nil {
		return billing.NewPolicy{}, fmt.Errorf("policy %s: effective_date: %w", pf.Number, err)
	}
	premium, err := billing.ParseMoney(pf.AnnualPremium)
	if err != nil {
		return billing.NewPolicy{}, fmt.Errorf("policy %s: annual_premium: %w", pf.Number, err)
	}

	np := billing.NewPolicy{
		Number:          pf.Number,
		EffectiveDate:   eff,
		AnnualPremium:   premium,
		BillingSchedule: billing.BillingSchedule(pf.BillingSchedule),
	}
	if pf.NamedInsured != "" {
		id := ids[pf.NamedInsured]
		np.NamedInsured = &id
	}
	if pf.Agent != "" {
		id := ids[pf.Agent]
		np.Agent = &id
	}
	return np, nil
}

// ToPaymentRequest converts the fixture entry. An empty contact is left
// empty so the payment defaults to the named insured.
func (pf PaymentFixture) ToPaymentRequest(policyID billing.PolicyID, ids map[string]billing.ContactID) (billing.PaymentRequest, error) {
	date, err := billing.ParseDate(pf.Date)
	if err != nil {
		return billing.PaymentRequest{}, fmt.Errorf("payment on %s: date: %w", pf.Policy, err)
	}
	amount, err := billing.ParseMoney(pf.Amount)
	if err != nil {
		return billing.PaymentRequest{}, fmt.Errorf("payment on %s: amount: %w", pf.Policy, err)
	}
	req := billing.PaymentRequest{PolicyID: policyID, Date: date, Amount: amount}
	if pf.Contact != "" {
		req.ContactID = ids[pf.Contact]
	}
	return req, nil
}

// =============================================================================
// LOADER
// =============================================================================

// LoadResult maps fixture references to the created records.
type LoadResult struct {
	Contacts map[string]billing.Contact
	Policies map[string]billing.Policy
	Payments []billing.Payment
}

// Loader creates fixture records through Accounting.
type Loader struct {
	acct *billing.Accounting
}

func NewLoader(acct *billing.Accounting) *Loader {
	return &Loader{acct: acct}
}

// SeedFixture parses and validates the embedded demo data.
func SeedFixture() (*Fixture, error) {
	return ParseFixture(seedFixture)
}

// LoadSeed loads the embedded demo data.
func (l *Loader) LoadSeed(ctx context.Context) (*LoadResult, error) {
	fx, err := SeedFixture()
	if err != nil {
		return nil, err
	}
	return l.Load(ctx, fx)
}

// Load creates contacts, then policies (generating their invoices), then
// payments. It stops at the first error; records created before it remain.
func (l *Loader) Load(ctx context.Context, fx *Fixture) (*LoadResult, error) {
	res := &LoadResult{
		Contacts: make(map[string]billing.Contact, len(fx.Contacts)),
		Policies: make(map[string]billing.Policy, len(fx.Policies)),
	}
	ids := make(map[string]billing.ContactID, len(fx.Contacts))

	for _, cf := range fx.Contacts {
		c, err := l.acct.CreateContact(ctx, cf.Name, billing.ContactRole(cf.Role))
		if err != nil {
			return res, fmt.Errorf("contact %s: %w", cf.Key, err)
		}
		res.Contacts[cf.Key] = c
		ids[cf.Key] = c.ID
	}

	for _, pf := range fx.Policies {
		np, err := pf.ToNewPolicy(ids)
		if err != nil {
			return res, err
		}
		p, err := l.acct.CreatePolicy(ctx, np)
		if err != nil {
			return res, fmt.Errorf("policy %s: %w", pf.Number, err)
		}
		if p, err = l.acct.Open(ctx, p.ID); err != nil {
			return res, fmt.Errorf("policy %s: %w", pf.Number, err)
		}
		res.Policies[pf.Number] = p
	}

	for _, pf := range fx.Payments {
		req, err := pf.ToPaymentRequest(res.Policies[pf.Policy].ID, ids)
		if err != nil {
			return res, err
		}
		payment, err := l.acct.RecordPayment(ctx, req)
		if err != nil {
			return res, fmt.Errorf("payment on %s: %w", pf.Policy, err)
		}
		res.Payments = append(res.Payments, payment)
	}
	return res, nil
}
