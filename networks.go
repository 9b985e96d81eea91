package t402

import (
	"fmt"
	"strings"
)

// Network represents a blockchain network identifier in CAIP-2 format,
// namespace:reference (e.g. "eip155:8453" for Base mainnet). A reference of
// "*" is a wildcard covering every network in the namespace.
type Network string

// Parse splits the network into namespace and reference components
func (n Network) Parse() (namespace, reference string, err error) {
	parts := strings.Split(string(n), ":")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid network format: %s", n)
	}
	return parts[0], parts[1], nil
}

// IsWildcard reports whether the network is a namespace wildcard like "eip155:*"
func (n Network) IsWildcard() bool {
	return strings.HasSuffix(string(n), ":*")
}

// Match checks if this network matches a pattern (supports wildcards)
// e.g. "eip155:1" matches "eip155:*" and "eip155:*" matches "eip155:1"
func (n Network) Match(pattern Network) bool {
	if n == pattern {
		return true
	}

	nStr := string(n)
	patternStr := string(pattern)

	if strings.HasSuffix(patternStr, ":*") {
		prefix := strings.TrimSuffix(patternStr, "*")
		return strings.HasPrefix(nStr, prefix)
	}

	// n itself may be the wildcard (bidirectional matching)
	if strings.HasSuffix(nStr, ":*") {
		prefix := strings.TrimSuffix(nStr, "*")
		return strings.HasPrefix(patternStr, prefix)
	}

	return false
}

// v1NetworkNames maps legacy v1 network nicknames to CAIP-2 identifiers.
// Only networks listed here are valid in v1 messages.
var v1NetworkNames = map[string]Network{
	"ethereum":         "eip155:1",
	"sepolia":          "eip155:11155111",
	"base":             "eip155:8453",
	"base-sepolia":     "eip155:84532",
	"optimism":         "eip155:10",
	"optimism-sepolia": "eip155:11155420",
	"arbitrum":         "eip155:42161",
	"arbitrum-sepolia": "eip155:421614",
	"polygon":          "eip155:137",
	"polygon-amoy":     "eip155:80002",
	"avalanche":        "eip155:43114",
	"avalanche-fuji":   "eip155:43113",
	"celo":             "eip155:42220",
	"solana":           "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp",
	"solana-devnet":    "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1",
}

// caip2ToV1Names is the reverse of v1NetworkNames, built at init
var caip2ToV1Names = func() map[Network]string {
	m := make(map[Network]string, len(v1NetworkNames))
	for name, network := range v1NetworkNames {
		m[network] = name
	}
	return m
}()

// NetworkFromV1Name resolves a legacy v1 nickname ("base-sepolia") to its
// CAIP-2 network. Unmapped names are invalid.
func NetworkFromV1Name(name string) (Network, error) {
	if network, ok := v1NetworkNames[name]; ok {
		return network, nil
	}
	return "", fmt.Errorf("unknown v1 network name: %s", name)
}

// V1NameForNetwork resolves a CAIP-2 network back to its legacy v1 nickname
func V1NameForNetwork(network Network) (string, error) {
	if name, ok := caip2ToV1Names[network]; ok {
		return name, nil
	}
	return "", fmt.Errorf("network %s has no v1 name", network)
}

// NormalizeNetwork accepts either a CAIP-2 identifier or a v1 nickname and
// returns the CAIP-2 form.
func NormalizeNetwork(s string) (Network, error) {
	if strings.Contains(s, ":") {
		return Network(s), nil
	}
	return NetworkFromV1Name(s)
}
