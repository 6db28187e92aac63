package mint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lanternlabs/mintscan/service/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(sig, tokenMint, wallet string, at time.Time) *db.MintTransaction {
	return &db.MintTransaction{
		Signature:     sig,
		TokenMint:     tokenMint,
		WalletAddress: wallet,
		BlockTime:     at,
	}
}

func TestFilter_ExcludeWallets(t *testing.T) {
	now := time.Now()
	records := []*db.MintTransaction{
		record("sig-1", "mint-a", "wallet-1", now),
		record("sig-2", "mint-a", "wallet-2", now),
		record("sig-3", "mint-a", "wallet-1", now),
	}

	filter := NewFilter([]ExclusionRule{
		{TokenMint: "mint-a", ExcludeWallets: []string{"wallet-1"}},
	})

	kept := filter.Apply(records, "mint-a")
	require.Len(t, kept, 1)
	assert.Equal(t, "sig-2", kept[0].Signature)
}

func TestFilter_ExcludeBefore(t *testing.T) {
	cutoff := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	records := []*db.MintTransaction{
		record("old", "mint-a", "wallet-1", cutoff.Add(-time.Hour)),
		record("boundary", "mint-a", "wallet-1", cutoff),
		record("new", "mint-a", "wallet-1", cutoff.Add(time.Hour)),
	}

	filter := NewFilter([]ExclusionRule{
		{TokenMint: "mint-a", ExcludeBefore: &cutoff},
	})

	kept := filter.Apply(records, "mint-a")
	require.Len(t, kept, 2)
	// The cutoff itself is not excluded, only strictly-before.
	assert.Equal(t, "boundary", kept[0].Signature)
	assert.Equal(t, "new", kept[1].Signature)
}

func TestFilter_RulesScopedToToken(t *testing.T) {
	now := time.Now()
	records := []*db.MintTransaction{
		record("sig-1", "mint-b", "wallet-1", now),
	}

	// The rule targets mint-a; mint-b reads are untouched.
	filter := NewFilter([]ExclusionRule{
		{TokenMint: "mint-a", ExcludeWallets: []string{"wallet-1"}},
	})

	kept := filter.Apply(records, "mint-b")
	assert.Len(t, kept, 1)
}

func TestFilter_InputNotModified(t *testing.T) {
	now := time.Now()
	records := []*db.MintTransaction{
		record("sig-1", "mint-a", "wallet-1", now),
		record("sig-2", "mint-a", "wallet-2", now),
	}

	filter := NewFilter([]ExclusionRule{
		{TokenMint: "mint-a", ExcludeWallets: []string{"wallet-1"}},
	})

	_ = filter.Apply(records, "mint-a")

	// The cache projection itself stays intact.
	require.Len(t, records, 2)
	assert.Equal(t, "sig-1", records[0].Signature)
	assert.Equal(t, "sig-2", records[1].Signature)
}

func TestFilter_NoRules(t *testing.T) {
	now := time.Now()
	records := []*db.MintTransaction{
		record("sig-1", "mint-a", "wallet-1", now),
	}

	filter := NewFilter(nil)
	kept := filter.Apply(records, "mint-a")
	assert.Equal(t, records, kept)
}

func TestLoadExclusionRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	content := `[
		{"token_mint": "mint-a", "exclude_wallets": ["wallet-1"]},
		{"token_mint": "mint-b", "exclude_before": "2026-01-15T00:00:00Z"}
	]`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	rules, err := LoadExclusionRules(path)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, []string{"wallet-1"}, rules[0].ExcludeWallets)
	require.NotNil(t, rules[1].ExcludeBefore)
	assert.Equal(t, 2026, rules[1].ExcludeBefore.Year())
}

func TestLoadExclusionRules_MissingFile(t *testing.T) {
	rules, err := LoadExclusionRules(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestLoadExclusionRules_EmptyPath(t *testing.T) {
	rules, err := LoadExclusionRules("")
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestLoadExclusionRules_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := LoadExclusionRules(path)
	require.Error(t, err)
}
