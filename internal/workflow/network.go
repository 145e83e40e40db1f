package workflow

import (
	"fmt"
	"sort"
	"strings"
)

// Network is a resolved EVM target.
type Network struct {
	Name     string
	Selector uint64
	ChainID  uint64
	RPCURL   string
	Testnet  bool
}

// builtinNetworks lists the chain selectors the workflow knows without
// configuration.
var builtinNetworks = map[string]Network{
	"ethereum-mainnet":                    {Selector: 5009297550715157269, ChainID: 1},
	"ethereum-testnet-sepolia":            {Selector: 16015286601757825753, ChainID: 11155111, Testnet: true},
	"ethereum-testnet-sepolia-base-1":     {Selector: 10344971235874465080, ChainID: 84532, Testnet: true},
	"ethereum-testnet-sepolia-arbitrum-1": {Selector: 3478487238524512106, ChainID: 421614, Testnet: true},
	"avalanche-testnet-fuji":              {Selector: 14767482510784806043, ChainID: 43113, Testnet: true},
	"polygon-testnet-amoy":                {Selector: 16281711391670634445, ChainID: 80002, Testnet: true},
}

// Networks resolves chain-selector names. Overrides replace or extend the
// built-in table; a zero Selector or ChainID in an override keeps the
// built-in value.
type Networks struct {
	table map[string]Network
}

// NewNetworks merges overrides into the built-in table.
func NewNetworks(overrides map[string]Network) *Networks {
	table := make(map[string]Network, len(builtinNetworks)+len(overrides))
	for name, n := range builtinNetworks {
		n.Name = name
		table[name] = n
	}
	for name, o := range overrides {
		name = strings.ToLower(strings.TrimSpace(name))
		base := table[name]
		base.Name = name
		if o.Selector != 0 {
			base.Selector = o.Selector
		}
		if o.ChainID != 0 {
			base.ChainID = o.ChainID
		}
		if o.RPCURL != "" {
			base.RPCURL = o.RPCURL
		}
		if o.Testnet {
			base.Testnet = true
		}
		table[name] = base
	}
	return &Networks{table: table}
}

// Resolve returns the network registered under name.
func (n *Networks) Resolve(name string) (Network, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return Network{}, fmt.Errorf("%w: chain selector name is empty", ErrConfiguration)
	}
	network, ok := n.table[key]
	if !ok || network.ChainID == 0 {
		return Network{}, fmt.Errorf("%w: network not found: %s", ErrConfiguration, name)
	}
	return network, nil
}

// Names lists known networks in sorted order.
func (n *Networks) Names() []string {
	names := make([]string, 0, len(n.table))
	for name := range n.table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
