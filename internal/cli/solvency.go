package cli

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/spf13/cobra"

	"aura-oracle/internal/app"
)

var solvencyShares string

var solvencyCmd = &cobra.Command{
	Use:   "solvency",
	Short: "Evaluate the solvency gate against the stored NAV and reserve",
	RunE: func(cmd *cobra.Command, args []string) error {
		var opts app.SolvencyOptions
		if solvencyShares != "" {
			shares, err := uint256.FromDecimal(solvencyShares)
			if err != nil {
				return fmt.Errorf("invalid --shares value: %w", err)
			}
			opts.Shares = shares
		}
		return getApp().Solvency(cmd.Context(), opts, cmd.OutOrStdout())
	},
}

func init() {
	solvencyCmd.Flags().StringVar(&solvencyShares, "shares", "", "Share supply in 18-decimal base units (defaults to the configured supply source)")
}
