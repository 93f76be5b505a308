package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "allocations.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAllocationsAcceptsExactSum(t *testing.T) {
	path := writeYAML(t, `
reserve_fraction: "0.2"
strategies:
  arb-1: "0.5"
  arb-2: "0.3"
`)
	a, err := LoadAllocations(path)
	require.NoError(t, err)
	require.Len(t, a.Strategies, 2)
}

func TestLoadAllocationsRejectsMismatchedSum(t *testing.T) {
	path := writeYAML(t, `
reserve_fraction: "0.2"
strategies:
  arb-1: "0.5"
  arb-2: "0.4"
`)
	_, err := LoadAllocations(path)
	require.Error(t, err)
}

func TestLoadAllocationsRejectsNegativeFraction(t *testing.T) {
	path := writeYAML(t, `
reserve_fraction: "0.2"
strategies:
  arb-1: "-0.1"
  arb-2: "0.9"
`)
	_, err := LoadAllocations(path)
	require.Error(t, err)
}

func TestLoadSecretsRequiresWalletKey(t *testing.T) {
	t.Setenv("SWARM_WALLET_PRIVATE_KEY", "")
	_, err := LoadSecrets()
	require.Error(t, err)

	t.Setenv("SWARM_WALLET_PRIVATE_KEY", "0xabc")
	s, err := LoadSecrets()
	require.NoError(t, err)
	require.Equal(t, "0xabc", s.WalletPrivateKeyHex)
}
