package main

import (
	"context"
	"fmt"
	"os"

	"tilerank/apps/chain/cmd/tilerankd/cmd"
)

func main() {
	rootCmd := cmd.NewRootCmd()
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		_, _ = fmt.Fprintln(rootCmd.ErrOrStderr(), err)
		os.Exit(1)
	}
}
