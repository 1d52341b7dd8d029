// Package walletcmd provides the wallet and network commands.
package walletcmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"zgDrop/cmd/zgdrop/cli"
	"zgDrop/pkg/wallet"
)

// WalletCmd groups the wallet connection commands.
var WalletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Wallet connection and network selection",
	Long: `Manage the wallet connection.

  connect     request accounts and move the wallet to the selected network
  disconnect  forget the connected account
  status      show the account, chain and selected network
  switch      select a network (mainnet | testnet)
  fix         move the wallet back to the selected network`,
}

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect the wallet",
	Args:  cobra.NoArgs,
	RunE: withWallet(func(ctx context.Context, w *cli.Wallet, args []string) error {
		if err := w.Connect(ctx); err != nil {
			return lastError(w, err)
		}
		printState(w.State())
		return nil
	}),
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Forget the connected account",
	Args:  cobra.NoArgs,
	RunE: withWallet(func(ctx context.Context, w *cli.Wallet, args []string) error {
		w.Disconnect()
		pterm.Success.Println("Wallet disconnected")
		return nil
	}),
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the wallet state",
	Args:  cobra.NoArgs,
	RunE: withWallet(func(ctx context.Context, w *cli.Wallet, args []string) error {
		printState(w.State())
		return nil
	}),
}

var switchCmd = &cobra.Command{
	Use:       "switch <network>",
	Short:     "Select the target network",
	Args:      cobra.ExactArgs(1),
	ValidArgs: networkKeys(),
	RunE: withWallet(func(ctx context.Context, w *cli.Wallet, args []string) error {
		if err := w.SwitchNetwork(ctx, args[0]); err != nil {
			return lastError(w, err)
		}
		printState(w.State())
		return nil
	}),
}

var fixCmd = &cobra.Command{
	Use:   "fix",
	Short: "Move the wallet onto the selected network",
	Args:  cobra.NoArgs,
	RunE: withWallet(func(ctx context.Context, w *cli.Wallet, args []string) error {
		if err := w.Ready(ctx); err != nil {
			return err
		}
		printState(w.State())
		return nil
	}),
}

func init() {
	WalletCmd.AddCommand(connectCmd, disconnectCmd, statusCmd, switchCmd, fixCmd)
}

func withWallet(fn func(ctx context.Context, w *cli.Wallet, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		w, err := cli.OpenWallet(ctx)
		if err != nil {
			return err
		}
		defer w.Close()
		return fn(ctx, w, args)
	}
}

func lastError(w *cli.Wallet, err error) error {
	if msg := w.State().LastError; msg != "" {
		return errors.New(msg)
	}
	return err
}

func printState(s wallet.State) {
	pterm.DefaultSection.Println("Wallet")

	account := "not connected"
	if s.IsConnected() {
		account = s.Address
	}
	chain := "unknown"
	if s.HasChainID {
		chain = fmt.Sprintf("%d", s.ChainID)
		if !s.IsCorrectNetwork() {
			chain += " (wrong network, run `zgdrop wallet fix`)"
		}
	}

	data := pterm.TableData{
		{"Account", account},
		{"Chain", chain},
		{"Selected network", fmt.Sprintf("%s (%d)", s.Network.Name, s.Network.ChainID)},
	}
	if s.IsConnected() {
		data = append(data, []string{"Explorer", s.AddressURL()})
	}
	pterm.DefaultTable.WithData(data).Render()
}
