package portfolioParser

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validPortfolio = `
name: Three fund
targetAllocation:
  stocks: 70
  bonds: 20
  real-estate: 10
etfs:
  VTI:
    name: Vanguard Total Stock Market
    assetClasses:
      - name: US Equity
        category: stocks
        percentage: 100
    transactions:
      - date: 2024-01-15
        quantity: 10
        price: 220.50
      - date: "2024-03-01"
        quantity: 5
        price: 235.20
  bnd:
    assetClasses:
      - name: US Bonds
        category: bonds
        percentage: 100
    transactions:
      - date: 2024-02-01
        quantity: 30
        price: 72.133
  AOA:
    ticker: aoa
    name: Aggressive Allocation
    assetClasses:
      - name: Equity
        category: stocks
        percentage: 79.995
      - name: Fixed income
        category: bonds
        percentage: 20.005
    transactions:
      - date: 2024-04-10
        quantity: -1
        price: 60
`

func TestParse_Valid(t *testing.T) {
	portfolio, err := Parse([]byte(validPortfolio))
	require.NoError(t, err)

	assert.Equal(t, "Three fund", portfolio.Name)
	assert.Equal(t, map[string]float64{"stocks": 70, "bonds": 20, "real-estate": 10}, portfolio.TargetAllocation)
	require.Len(t, portfolio.Etfs, 3)

	vti := portfolio.Etfs["VTI"]
	assert.Equal(t, "VTI", vti.Ticker)
	assert.Equal(t, "Vanguard Total Stock Market", vti.Name)
	require.Len(t, vti.Transactions, 2)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), vti.Transactions[0].Date)
	assert.Equal(t, 220.50, vti.Transactions[0].Price)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), vti.Transactions[1].Date)

	bnd, ok := portfolio.Etfs["bnd"]
	require.True(t, ok, "ticker case is preserved")
	assert.Equal(t, "bnd", bnd.Name, "name defaults to ticker")

	aoa := portfolio.Etfs["AOA"]
	require.Len(t, aoa.AssetClasses, 2)
	assert.Equal(t, "bonds", aoa.AssetClasses[1].Category)
	assert.Equal(t, -1.0, aoa.Transactions[0].Quantity)
}

func TestParse_AggregatesIssues(t *testing.T) {
	raw := `
targetAllocation:
  stocks: 70
  bonds: 20
etfs:
  VTI:
    assetClasses:
      - name: US Equity
        category: stocks
        percentage: 90
    transactions:
      - date: 15.01.2024
        quantity: 0
        price: -1
  vti:
    ticker: BND
    assetClasses: []
    transactions: []
`
	_, err := Parse([]byte(raw))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)

	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.ElementsMatch(t, []string{
		"targetAllocation sums to 90, expected 100",
		"etf VTI: asset classes sum to 90, expected 100",
		"etf VTI: transaction 1 has zero quantity",
		"etf VTI: transaction 1 price must be positive",
		`etf VTI: transaction 1 date "15.01.2024" is not YYYY-MM-DD`,
		"etf vti duplicates VTI",
		`etf vti: ticker field "BND" does not match the key`,
		"etf vti: no asset classes",
		"etf vti: no transactions",
	}, validationErr.Issues)
}

func TestParse_Empty(t *testing.T) {
	_, err := Parse([]byte("name: nothing\n"))
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, []string{"targetAllocation is empty", "etfs is empty"}, validationErr.Issues)
}

func TestParse_MalformedYaml(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "not yaml", raw: "etfs: [unclosed"},
		{name: "unknown field", raw: "name: x\ntargets: {}\n"},
		{name: "wrong type", raw: "targetAllocation: 5\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw))
			assert.ErrorIs(t, err, ErrValidation)
			assert.ErrorContains(t, err, "malformed yaml")
		})
	}
}

func TestValidate_Tolerance(t *testing.T) {
	portfolio, err := Parse([]byte(`
targetAllocation:
  stocks: 60.005
  bonds: 40.004
etfs:
  AOA:
    assetClasses:
      - {name: Equity, category: stocks, percentage: 99.995}
    transactions:
      - {date: 2024-01-02, quantity: 1, price: 1}
`))
	require.NoError(t, err)
	assert.Len(t, portfolio.Etfs, 1)
}
