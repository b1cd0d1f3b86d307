// Package portfolioParser turns an uploaded YAML document into a validated
// model.Portfolio. All validation problems are reported together.
package portfolioParser

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/KotFed0t/etf_portfolio_tracker/internal/converter/yamlConverter"
	"github.com/KotFed0t/etf_portfolio_tracker/internal/model"
	"github.com/KotFed0t/etf_portfolio_tracker/internal/model/yamlModel"
	"gopkg.in/yaml.v3"
)

const sumTolerance = 0.01

var ErrValidation = errors.New("invalid portfolio")

type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(e.Issues, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func Parse(raw []byte) (model.Portfolio, error) {
	rawPortfolio := yamlModel.Portfolio{}

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&rawPortfolio); err != nil {
		return model.Portfolio{}, &ValidationError{Issues: []string{"malformed yaml: " + err.Error()}}
	}

	if issues := Validate(rawPortfolio); len(issues) > 0 {
		return model.Portfolio{}, &ValidationError{Issues: issues}
	}

	portfolio, err := yamlConverter.ConvertPortfolio(rawPortfolio)
	if err != nil {
		return model.Portfolio{}, &ValidationError{Issues: []string{err.Error()}}
	}

	return portfolio, nil
}

// Validate returns human readable issues ordered by ticker. Categories of asset
// classes are not checked against the target allocation, unknown ones surface
// as drift.
func Validate(p yamlModel.Portfolio) []string {
	var issues []string
	addIssue := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	if len(p.TargetAllocation) == 0 {
		addIssue("targetAllocation is empty")
	} else {
		var sum float64
		for _, category := range sortedKeys(p.TargetAllocation) {
			pct := p.TargetAllocation[category]
			if strings.TrimSpace(category) == "" {
				addIssue("targetAllocation has an empty category")
			}
			if pct < 0 || pct > 100 {
				addIssue("targetAllocation %s: percentage %v is out of [0, 100]", category, pct)
			}
			sum += pct
		}
		if !aboutHundred(sum) {
			addIssue("targetAllocation sums to %v, expected 100", round(sum))
		}
	}

	if len(p.Etfs) == 0 {
		addIssue("etfs is empty")
	}

	seen := make(map[string]string, len(p.Etfs))
	for _, ticker := range sortedKeys(p.Etfs) {
		etf := p.Etfs[ticker]
		normalized := strings.ToUpper(strings.TrimSpace(ticker))

		if normalized == "" {
			addIssue("etf with empty ticker")
			continue
		}
		if other, ok := seen[normalized]; ok {
			addIssue("etf %s duplicates %s", ticker, other)
		}
		seen[normalized] = ticker

		if etf.Ticker != "" && !strings.EqualFold(strings.TrimSpace(etf.Ticker), strings.TrimSpace(ticker)) {
			addIssue("etf %s: ticker field %q does not match the key", ticker, etf.Ticker)
		}

		if len(etf.AssetClasses) == 0 {
			addIssue("etf %s: no asset classes", ticker)
		} else {
			var sum float64
			for i, ac := range etf.AssetClasses {
				if strings.TrimSpace(ac.Category) == "" {
					addIssue("etf %s: asset class %d has no category", ticker, i+1)
				}
				if ac.Percentage < 0 || ac.Percentage > 100 {
					addIssue("etf %s: asset class %d percentage %v is out of [0, 100]", ticker, i+1, ac.Percentage)
				}
				sum += ac.Percentage
			}
			if !aboutHundred(sum) {
				addIssue("etf %s: asset classes sum to %v, expected 100", ticker, round(sum))
			}
		}

		if len(etf.Transactions) == 0 {
			addIssue("etf %s: no transactions", ticker)
		}
		for i, tx := range etf.Transactions {
			if tx.Quantity == 0 {
				addIssue("etf %s: transaction %d has zero quantity", ticker, i+1)
			}
			if tx.Price <= 0 {
				addIssue("etf %s: transaction %d price must be positive", ticker, i+1)
			}
			if _, err := time.Parse(yamlConverter.DateLayout, tx.Date); err != nil {
				addIssue("etf %s: transaction %d date %q is not YYYY-MM-DD", ticker, i+1, tx.Date)
			}
		}
	}

	return issues
}

func aboutHundred(sum float64) bool {
	return math.Abs(sum-100) <= sumTolerance
}

func round(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
