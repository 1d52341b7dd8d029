package walletcmd

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"zgDrop/pkg/wallet"
)

// NetworksCmd lists the supported networks.
var NetworksCmd = &cobra.Command{
	Use:   "networks",
	Short: "List the supported 0G networks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data := pterm.TableData{{"Key", "Name", "Chain ID", "RPC", "Explorer"}}
		for _, n := range wallet.Networks() {
			data = append(data, []string{
				n.Key,
				n.Name,
				fmt.Sprintf("%d (%s)", n.ChainID, n.HexChainID),
				n.RPCURL,
				n.ExplorerURL,
			})
		}
		return pterm.DefaultTable.WithHasHeader(true).WithData(data).Render()
	},
}

func networkKeys() []string {
	var keys []string
	for _, n := range wallet.Networks() {
		keys = append(keys, n.Key)
	}
	return keys
}
