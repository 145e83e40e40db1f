package cli

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"aura-oracle/internal/app"
)

var (
	simulateAssets   string
	simulateReceiver string
	simulateCount    int
	simulateRefresh  bool

	simulateReserve   float64
	simulateLiability float64
)

var simulateDepositCmd = &cobra.Command{
	Use:   "simulate-deposit",
	Short: "Run deposits through an in-process vault gated by the current oracle records",
	RunE: func(cmd *cobra.Command, args []string) error {
		assets, err := decimal.NewFromString(simulateAssets)
		if err != nil {
			return fmt.Errorf("invalid --assets value: %w", err)
		}
		if !common.IsHexAddress(simulateReceiver) {
			return fmt.Errorf("--receiver must be an address")
		}

		opts := app.SimulateDepositOptions{
			Assets:   assets,
			Receiver: common.HexToAddress(simulateReceiver),
			Count:    simulateCount,
			Refresh:  simulateRefresh,
		}
		return getApp().SimulateDeposit(cmd.Context(), opts, cmd.OutOrStdout())
	},
}

var simulateAlertCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次系统暂停并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateReserve < 0 || simulateLiability <= 0 {
			return errors.New("--reserve 不能为负，--liability 必须大于 0")
		}

		reserve := decimal.NewFromFloat(simulateReserve)
		liability := decimal.NewFromFloat(simulateLiability)
		return getApp().SimulateAlert(cmd.Context(), reserve, liability)
	},
}

func init() {
	simulateDepositCmd.Flags().StringVar(&simulateAssets, "assets", "1", "Assets per deposit in whole units")
	simulateDepositCmd.Flags().StringVar(&simulateReceiver, "receiver", "", "Receiver address (must be in vault.verified)")
	simulateDepositCmd.Flags().IntVar(&simulateCount, "count", 1, "Number of deposits to run")
	simulateDepositCmd.Flags().BoolVar(&simulateRefresh, "refresh", false, "Perform one upkeep before depositing")

	simulateAlertCmd.Flags().Float64Var(&simulateReserve, "reserve", 0, "模拟的储备金额")
	simulateAlertCmd.Flags().Float64Var(&simulateLiability, "liability", 0, "模拟的负债金额")
}
