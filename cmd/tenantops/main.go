package main

import (
	"fmt"
	"os"

	"github.com/neomorfeo/tenantops/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "tenantops:", err)
		os.Exit(1)
	}
}
