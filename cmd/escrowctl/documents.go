package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/ayo6706/deal-escrow/internal/documents"
	"github.com/ayo6706/deal-escrow/internal/domain"
	"github.com/spf13/cobra"
)

func documentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "documents",
		Short: "Inspect per-category document requirements",
	}
	cmd.AddCommand(documentsListCmd())
	return cmd
}

func documentsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [category]",
		Short: "List the documents each party uploads for a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			category := domain.Category(args[0])
			if !category.Valid() {
				return fmt.Errorf("unknown category %q", args[0])
			}
			roleFlag, _ := cmd.Flags().GetString("role")
			roles := []domain.Role{domain.RoleSeller, domain.RoleBuyer}
			if roleFlag != "" {
				role := domain.Role(roleFlag)
				if !role.Valid() {
					return fmt.Errorf("role must be buyer or seller")
				}
				roles = []domain.Role{role}
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ROLE\tTYPE\tNAME\tREQUIRED")
			for _, role := range roles {
				for _, req := range documents.Requirements(category, role) {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", role, req.Type, req.Name, req.Required)
				}
			}
			if category.RequiresContract() {
				fmt.Fprintln(tw, "both\tcontract\tSigned deal contract\ttrue")
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringP("role", "r", "", "Only list one party (buyer, seller)")

	return cmd
}
