package file

import (
	"context"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"zgDrop/cmd/zgdrop/cli"
)

var outputDir string

// DownloadCmd fetches a file by root hash through the relay.
var DownloadCmd = &cobra.Command{
	Use:   "download <rootHash>",
	Short: "Download a file by root hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		path, err := cli.RelayClient().Download(ctx, args[0], outputDir)
		if err != nil {
			return err
		}
		pterm.Success.Printf("Saved %s\n", path)
		return nil
	},
}

func init() {
	DownloadCmd.Flags().StringVarP(&outputDir, "output", "o", ".", "Directory to save the file in")
}
