package config

import "sort"

// Chain is a known target chain.
type Chain struct {
	Name     string
	Selector uint64
}

var chains = map[string]Chain{
	"ethereum-mainnet":                    {Name: "ethereum-mainnet", Selector: 5009297550715157269},
	"ethereum-testnet-sepolia":            {Name: "ethereum-testnet-sepolia", Selector: 16015286601757825753},
	"ethereum-testnet-sepolia-base-1":     {Name: "ethereum-testnet-sepolia-base-1", Selector: 10344971235874465080},
	"ethereum-testnet-sepolia-arbitrum-1": {Name: "ethereum-testnet-sepolia-arbitrum-1", Selector: 3478487238524512106},
}

// LookupChain resolves a chain by name.
func LookupChain(name string) (Chain, bool) {
	c, ok := chains[name]
	return c, ok
}

// Chains lists the registry sorted by name.
func Chains() []Chain {
	out := make([]Chain, 0, len(chains))
	for _, c := range chains {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
