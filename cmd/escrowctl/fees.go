package main

import (
	"fmt"

	"github.com/ayo6706/deal-escrow/internal/domain"
	"github.com/ayo6706/deal-escrow/internal/fees"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func feesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fees",
		Short: "Inspect the fee schedule",
	}
	cmd.AddCommand(feesQuoteCmd())
	return cmd
}

func feesQuoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quote [amount]",
		Short: "Price a deal amount with escrow and gateway fees",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[0])
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[0], err)
			}
			if !domain.WithinDealBounds(amount) {
				return fmt.Errorf("amount must be between %d and %d", domain.MinDealAmount, domain.MaxDealAmount)
			}
			partyFlag, _ := cmd.Flags().GetString("party")
			party := domain.PartyType(partyFlag)
			if !party.Valid() {
				return fmt.Errorf("party must be personal or business")
			}
			method, _ := cmd.Flags().GetString("method")

			cost, err := fees.NewCalculator().TotalTransactionCost(amount, party, fees.NormalizeMethod(method))
			if err != nil {
				return err
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return writeJSON(cmd.OutOrStdout(), cost)
			}

			out := cmd.OutOrStdout()
			b := cost.Breakdown
			fmt.Fprintf(out, "Amount:       %s\n", b.Amount.StringFixed(2))
			fmt.Fprintf(out, "Escrow fee:   %s (%s%% + GST %s)\n", b.EscrowFee.StringFixed(2), cost.EscrowFees.Percentage.String(), cost.EscrowFees.GST.StringFixed(2))
			fmt.Fprintf(out, "Gateway fee:  %s (%s)\n", b.GatewayFee.StringFixed(2), cost.GatewayFees.Method)
			fmt.Fprintf(out, "Total fees:   %s\n", b.TotalFees.StringFixed(2))
			fmt.Fprintf(out, "Grand total:  %s\n", b.GrandTotal.StringFixed(2))
			return nil
		},
	}

	cmd.Flags().StringP("party", "p", string(domain.PartyPersonal), "Party type (personal, business)")
	cmd.Flags().StringP("method", "m", string(domain.MethodUPI), "Payment method")
	cmd.Flags().BoolP("json", "j", false, "Output as JSON")

	return cmd
}
