package main

import (
	"fmt"
	"os"

	"github.com/xgstriker/bbd-server/cmd"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	ctx := &cmd.Context{Version: version}
	rootCmd := cmd.RootCommand(ctx)

	err := rootCmd.Execute()
	_ = ctx.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
