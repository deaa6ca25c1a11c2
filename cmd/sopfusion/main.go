// Package main provides the entry point for the sopfusion CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/sopfusion/cmd/sopfusion/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
