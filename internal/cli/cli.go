// Package cli is the thin entrypoint wrapper cmd/subtransd delegates to,
// mirroring the original media pipeline's internal/cli package.
package cli

import (
	"fmt"
	"os"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/cli/commands"
)

// Run executes the root command and exits non-zero on failure.
func Run() {
	if err := commands.RootCmd.Execute(); err != nil {
		fmt.Printf("subtransd: %v\n", err)
		os.Exit(1)
	}
}
