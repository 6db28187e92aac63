package mint

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/lanternlabs/mintscan/service/db"
)

// ExclusionRule is one hand-maintained special case applied at read time.
// Rules are keyed by token mint and evaluated independently per record; a
// record is dropped when it matches any applicable rule. Rules never touch
// the cache itself, so enabling or disabling one retroactively changes
// reported totals without any cache migration.
type ExclusionRule struct {
	TokenMint      string     `json:"token_mint"`
	ExcludeWallets []string   `json:"exclude_wallets,omitempty"`
	ExcludeBefore  *time.Time `json:"exclude_before,omitempty"`
}

// Filter applies read-time exclusion rules to cached mint transactions.
type Filter struct {
	rules map[string][]ExclusionRule
}

// NewFilter indexes the given rules by token mint.
func NewFilter(rules []ExclusionRule) *Filter {
	indexed := make(map[string][]ExclusionRule, len(rules))
	for _, rule := range rules {
		indexed[rule.TokenMint] = append(indexed[rule.TokenMint], rule)
	}
	return &Filter{rules: indexed}
}

// LoadExclusionRules reads rules from a JSON file. A missing path yields an
// empty rule set, not an error, so deployments without special cases need
// no config file.
func LoadExclusionRules(path string) ([]ExclusionRule, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read exclusion rules: %w", err)
	}
	var rules []ExclusionRule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse exclusion rules %s: %w", path, err)
	}
	return rules, nil
}

// Apply returns the records for tokenMint that no rule excludes. The input
// slice is never modified.
func (f *Filter) Apply(records []*db.MintTransaction, tokenMint string) []*db.MintTransaction {
	rules := f.rules[tokenMint]
	if len(rules) == 0 {
		return records
	}

	kept := make([]*db.MintTransaction, 0, len(records))
	for _, record := range records {
		if !f.excluded(record, rules) {
			kept = append(kept, record)
		}
	}
	return kept
}

func (f *Filter) excluded(record *db.MintTransaction, rules []ExclusionRule) bool {
	for _, rule := range rules {
		for _, wallet := range rule.ExcludeWallets {
			if record.WalletAddress == wallet {
				return true
			}
		}
		if rule.ExcludeBefore != nil && record.BlockTime.Before(*rule.ExcludeBefore) {
			return true
		}
	}
	return false
}
