package main

import (
	"github.com/spf13/cobra"

	"zgDrop/cmd/zgdrop/cli"
	"zgDrop/cmd/zgdrop/file"
	"zgDrop/cmd/zgdrop/walletcmd"
)

var (
	// set via ldflags
	version = "1.0.0"
	commit  = "unknown"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "zgdrop",
	Short: "Drop files onto 0G storage",
	Long: `zgdrop uploads files to 0G storage through a zgDrop relay and fetches
them back by root hash.

Uploads are gated on a connected wallet on the selected 0G network. The
wallet is reached through a wallet bridge (client.wallet_rpc and
client.wallet_ws); pass --skip-wallet to upload without one.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return cli.Load()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cli.ConfigPath, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&cli.RelayURL, "relay", "", "Relay URL (overrides client.relay_url)")

	rootCmd.AddCommand(file.UploadCmd)
	rootCmd.AddCommand(file.DownloadCmd)
	rootCmd.AddCommand(walletcmd.WalletCmd)
	rootCmd.AddCommand(walletcmd.NetworksCmd)
}
