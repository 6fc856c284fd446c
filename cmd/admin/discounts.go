package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/darktidesresearch/storefront/internal/orders"
)

func discountsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discounts",
		Short: "Manage discount codes",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List discount codes, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ds, err := a.catalog.ListDiscounts(cmd.Context())
			if err != nil {
				return err
			}
			printDiscounts(cmd.OutOrStdout(), ds)
			return nil
		},
	}

	var (
		kind, value, description string
		inactive                 bool
	)
	add := &cobra.Command{
		Use:     "add <code>",
		Short:   "Create a discount code",
		Example: "  storefront-admin discounts add SPRING10 --type percentage --value 10",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseMoney(value)
			if err != nil {
				return err
			}
			d, err := a.catalog.CreateDiscount(cmd.Context(), orders.DiscountCode{
				Code:          args[0],
				Description:   description,
				DiscountType:  orders.DiscountType(kind),
				DiscountValue: v,
				IsActive:      !inactive,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", d.Code, describeDiscount(d))
			return nil
		},
	}
	add.Flags().StringVar(&kind, "type", string(orders.DiscountPercentage), "percentage or fixed")
	add.Flags().StringVar(&value, "value", "", "percent (1-100) or USD amount")
	add.Flags().StringVar(&description, "description", "", "internal note")
	add.Flags().BoolVar(&inactive, "inactive", false, "create disabled")
	_ = add.MarkFlagRequired("value")

	toggle := &cobra.Command{
		Use:   "toggle <code>",
		Short: "Enable or disable a discount code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.catalog.ToggleDiscount(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", d.Code, activeLabel(d.IsActive))
			return nil
		},
	}

	cmd.AddCommand(list, add, toggle)
	return cmd
}

func describeDiscount(d orders.DiscountCode) string {
	if d.DiscountType == orders.DiscountPercentage {
		return d.DiscountValue.String() + "% off"
	}
	return "$" + d.DiscountValue.StringFixed(2) + " off"
}

func printDiscounts(w io.Writer, ds []orders.DiscountCode) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tDISCOUNT\tUSED\tSTATE\tDESCRIPTION")
	for _, d := range ds {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", d.Code, describeDiscount(d), d.UsageCount, activeLabel(d.IsActive), d.Description)
	}
	_ = tw.Flush()
}
