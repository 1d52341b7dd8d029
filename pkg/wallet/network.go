package wallet

import (
	"sort"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

type Currency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// Network is one of the 0G chains the wallet can be pointed at.
type Network struct {
	Key            string
	ChainID        uint64
	HexChainID     string
	Name           string
	ShortName      string
	RPCURL         string
	ExplorerURL    string
	NativeCurrency Currency
}

const DefaultNetwork = "testnet"

var networks = map[string]Network{
	"mainnet": {
		Key:            "mainnet",
		ChainID:        16661,
		HexChainID:     hexutil.EncodeUint64(16661),
		Name:           "0G Mainnet",
		ShortName:      "Mainnet",
		RPCURL:         "https://evmrpc.0g.ai",
		ExplorerURL:    "https://chainscan.0g.ai",
		NativeCurrency: Currency{Name: "0G", Symbol: "0G", Decimals: 18},
	},
	"testnet": {
		Key:            "testnet",
		ChainID:        16602,
		HexChainID:     hexutil.EncodeUint64(16602),
		Name:           "0G Galileo Testnet",
		ShortName:      "Testnet",
		RPCURL:         "https://evmrpc-testnet.0g.ai",
		ExplorerURL:    "https://chainscan-galileo.0g.ai",
		NativeCurrency: Currency{Name: "0G", Symbol: "OG", Decimals: 18},
	},
}

// LookupNetwork returns the network registered under key.
func LookupNetwork(key string) (Network, bool) {
	n, ok := networks[key]
	return n, ok
}

// Networks lists every known network, sorted by key.
func Networks() []Network {
	out := make([]Network, 0, len(networks))
	for _, n := range networks {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// addChainParams is the wallet_addEthereumChain payload for n.
type addChainParams struct {
	ChainID           string   `json:"chainId"`
	ChainName         string   `json:"chainName"`
	NativeCurrency    Currency `json:"nativeCurrency"`
	RPCURLs           []string `json:"rpcUrls"`
	BlockExplorerURLs []string `json:"blockExplorerUrls"`
}

func (n Network) addChainParams() addChainParams {
	return addChainParams{
		ChainID:           n.HexChainID,
		ChainName:         n.Name,
		NativeCurrency:    n.NativeCurrency,
		RPCURLs:           []string{n.RPCURL},
		BlockExplorerURLs: []string{n.ExplorerURL},
	}
}
