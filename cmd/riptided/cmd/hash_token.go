package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/riptide-ws/riptide/internal/auth"
)

var hashTokenCmd = &cobra.Command{
	Use:   "hash-token <token>",
	Short: "Generate an argon2id hash of an admission token for riptide.yaml",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := auth.HashToken(args[0])
		if err != nil {
			return fmt.Errorf("hash-token: %w", err)
		}
		fmt.Println(hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashTokenCmd)
}
