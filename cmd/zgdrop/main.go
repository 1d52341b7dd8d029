// Package main is the zgDrop command line client.
//
// It drives the upload queue against a relay and manages the wallet
// connection through a wallet bridge:
//   - upload and download files (upload, download)
//   - wallet connection and network selection (wallet ...)
//   - the list of supported 0G networks (networks)
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
