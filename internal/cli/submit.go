package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var (
	submitPayload string
	submitFile    string
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Build, attest and write one report from a trigger payload",
	Long:  "Reads the JSON trigger payload from --payload, --file, or stdin when neither is set.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if submitPayload != "" && submitFile != "" {
			return fmt.Errorf("--payload and --file are mutually exclusive")
		}

		var (
			raw []byte
			err error
		)
		switch {
		case submitPayload != "":
			raw = []byte(submitPayload)
		case submitFile != "":
			raw, err = os.ReadFile(submitFile)
		default:
			raw, err = io.ReadAll(cmd.InOrStdin())
		}
		if err != nil {
			return fmt.Errorf("read payload: %w", err)
		}

		return getApp().Submit(cmd.Context(), raw, cmd.OutOrStdout())
	},
}

var upkeepCmd = &cobra.Command{
	Use:   "upkeep",
	Short: "Perform one scheduled NAV/PoR update if the minimum interval has elapsed",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Upkeep(cmd.Context(), cmd.OutOrStdout())
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitPayload, "payload", "", "Inline JSON trigger payload")
	submitCmd.Flags().StringVar(&submitFile, "file", "", "Path to a JSON trigger payload")
}
