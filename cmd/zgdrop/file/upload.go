// Package file provides the upload and download commands.
package file

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"zgDrop/cmd/zgdrop/cli"
	"zgDrop/pkg/format"
	"zgDrop/pkg/uploadqueue"
)

var (
	skipWallet bool
	retries    int
)

// UploadCmd uploads one or more files through the relay, one at a time.
var UploadCmd = &cobra.Command{
	Use:   "upload <file>...",
	Short: "Upload files to 0G storage",
	Long: `Queue the given files and upload them through the relay one after the
other. A failed file does not stop the rest; failed files are retried up to
--retries times. The command exits non-zero when any file is still failed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return uploadFiles(cmd.Context(), args)
	},
}

func init() {
	UploadCmd.Flags().BoolVar(&skipWallet, "skip-wallet", false, "Upload without a connected wallet")
	UploadCmd.Flags().IntVarP(&retries, "retries", "r", 0, "Retry failed uploads this many times")
}

func uploadFiles(ctx context.Context, paths []string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	files := make([]uploadqueue.File, 0, len(paths))
	for _, path := range paths {
		f, err := uploadqueue.FromPath(path)
		if err != nil {
			return err
		}
		files = append(files, f)
	}

	if !skipWallet {
		if err := requireWallet(ctx); err != nil {
			return err
		}
	}

	queue := uploadqueue.NewManager(cli.RelayClient().Uploader(), uploadqueue.WithObserver(printTransition))
	defer queue.Close()

	queue.Enqueue(files...)
	stats := queue.Stats()
	pterm.Info.Printf("Uploading %d file(s), %s\n", stats.Total, format.FormatBytes(stats.TotalSize))

	if err := queue.UploadAll(ctx); err != nil {
		return err
	}
	for attempt := 1; attempt <= retries; attempt++ {
		failed := failedIDs(queue.Jobs())
		if len(failed) == 0 {
			break
		}
		logrus.Debugf("Retry pass %d for %d file(s)", attempt, len(failed))
		for _, id := range failed {
			if err := queue.Retry(ctx, id); err != nil {
				return err
			}
		}
	}

	if err := renderResults(queue.Jobs()); err != nil {
		return err
	}

	stats = queue.Stats()
	if stats.Done < stats.Total {
		return fmt.Errorf("%d of %d uploads failed", stats.Total-stats.Done, stats.Total)
	}
	pterm.Success.Printf("%d/%d uploaded\n", stats.Done, stats.Total)
	return nil
}

func requireWallet(ctx context.Context) error {
	w, err := cli.OpenWallet(ctx)
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Ready(ctx); err != nil {
		return fmt.Errorf("wallet not ready: %w", err)
	}
	state := w.State()
	pterm.Info.Printf("Wallet %s on %s\n", state.ShortAddress(), state.Network.Name)
	return nil
}

func printTransition(job uploadqueue.FileJob) {
	name := format.TruncateName(job.Name, 32)
	switch job.Status {
	case uploadqueue.StatusUploading:
		pterm.Info.Printf("%s uploading (%s)\n", name, format.FormatBytes(job.Size))
	case uploadqueue.StatusDone:
		pterm.Success.Printf("%s %s\n", name, format.TruncateHash(job.RootHash, 8))
	case uploadqueue.StatusError:
		pterm.Error.Printf("%s %s\n", name, job.ErrorMessage)
	}
}

func failedIDs(jobs []uploadqueue.FileJob) []string {
	var ids []string
	for _, j := range jobs {
		if j.Status == uploadqueue.StatusError {
			ids = append(ids, j.ID)
		}
	}
	return ids
}

func renderResults(jobs []uploadqueue.FileJob) error {
	data := pterm.TableData{{"File", "Size", "Status", "Root hash / error"}}
	for _, j := range jobs {
		detail := j.RootHash
		if j.Status == uploadqueue.StatusError {
			detail = j.ErrorMessage
		}
		data = append(data, []string{
			format.TruncateName(j.Name, 32),
			format.FormatBytes(j.Size),
			string(j.Status),
			detail,
		})
	}
	return pterm.DefaultTable.WithHasHeader(true).WithData(data).Render()
}
