package factory

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/policy-billing/billing"
	"github.com/warp/policy-billing/billing/store"
)

func newAccounting(today string) *billing.Accounting {
	d := billing.MustParseDate(today)
	return billing.NewAccounting(store.NewTxMemory(),
		billing.WithClock(func() billing.Date { return d }),
		billing.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func TestLoadSeed(t *testing.T) {
	ctx := context.Background()
	acct := newAccounting("2015-02-01")

	res, err := NewLoader(acct).LoadSeed(ctx)
	require.NoError(t, err)

	assert.Len(t, res.Contacts, 6)
	assert.Len(t, res.Policies, 3)
	assert.Len(t, res.Payments, 1)

	// Two contacts share the name John Doe
	assert.Equal(t, res.Contacts["john-doe-agent"].Name, res.Contacts["john-doe-insured"].Name)
	assert.NotEqual(t, res.Contacts["john-doe-agent"].ID, res.Contacts["john-doe-insured"].ID)

	// Policy One: annual, no named insured
	one := res.Policies["Policy One"]
	assert.Nil(t, one.NamedInsured)
	invoices, err := acct.Invoices(ctx, one.ID, false)
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, "365.00", invoices[0].AmountDue.String())

	// Policy Two: first quarter paid on its bill date
	two := res.Policies["Policy Two"]
	balance, err := acct.Balance(ctx, two.ID, billing.MustParseDate("2015-02-01"))
	require.NoError(t, err)
	assert.Equal(t, "0.00", balance.String())

	// Policy Three: monthly
	invoices, err = acct.Invoices(ctx, res.Policies["Policy Three"].ID, false)
	require.NoError(t, err)
	assert.Len(t, invoices, 12)
}

func TestParseFixture_Validation(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{
			name:    "missing key",
			data:    "contacts:\n  - name: Anna White\n    role: Named Insured\n",
			wantErr: "key is required",
		},
		{
			name:    "duplicate key",
			data:    "contacts:\n  - {key: a, name: A, role: Agent}\n  - {key: a, name: B, role: Agent}\n",
			wantErr: "duplicate key",
		},
		{
			name:    "unknown contact",
			data:    "policies:\n  - {number: P1, effective_date: 2015-01-01, annual_premium: \"10\", agent: ghost}\n",
			wantErr: "unknown contact",
		},
		{
			name:    "unknown policy",
			data:    "payments:\n  - {policy: P9, date: 2015-01-01, amount: \"10\"}\n",
			wantErr: "unknown policy",
		},
		{
			name:    "not yaml",
			data:    "contacts: [",
			wantErr: "invalid fixture",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFixture([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseFixture_JSON(t *testing.T) {
	data := `{"contacts":[{"key":"a","name":"Anna White","role":"Named Insured"}],` +
		`"policies":[{"number":"P1","effective_date":"2015-01-01","annual_premium":"1200","billing_schedule":"Monthly","named_insured":"a"}]}`

	fx, err := ParseFixture([]byte(data))
	require.NoError(t, err)

	res, err := NewLoader(newAccounting("2015-01-01")).Load(context.Background(), fx)
	require.NoError(t, err)
	p := res.Policies["P1"]
	require.NotNil(t, p.NamedInsured)
	assert.Equal(t, res.Contacts["a"].ID, *p.NamedInsured)
}

func TestLoad_StopsOnBadRecord(t *testing.T) {
	fx, err := ParseFixture([]byte("policies:\n  - {number: P1, effective_date: 2015-01-01, annual_premium: \"10\", billing_schedule: Semi-Annual}\n"))
	require.NoError(t, err)

	_, err = NewLoader(newAccounting("2015-01-01")).Load(context.Background(), fx)
	assert.ErrorIs(t, err, billing.ErrConfiguration)
}
