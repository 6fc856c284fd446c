package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/darktidesresearch/storefront/internal/orders"
)

func ordersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Inspect orders and record payments",
	}

	var (
		status string
		limit  int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			found, err := a.office.ListOrders(cmd.Context(), orders.Status(status), limit)
			if err != nil {
				return err
			}
			printOrders(cmd.OutOrStdout(), found)
			return nil
		},
	}
	list.Flags().StringVar(&status, "status", "", "pending, confirmed, shipped or cancelled")
	list.Flags().IntVar(&limit, "limit", 50, "maximum rows")

	confirmVenmo := &cobra.Command{
		Use:   "confirm-venmo <order-number>",
		Short: "Record a Venmo payment seen in the Venmo app",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.office.ConfirmVenmo(cmd.Context(), normalizeOrderNumber(args[0]))
			if err != nil {
				return err
			}
			printOrder(cmd.OutOrStdout(), o)
			return nil
		},
	}

	var force bool
	confirmCrypto := &cobra.Command{
		Use:   "confirm-crypto <order-number>",
		Short: "Re-apply the latest recorded Coinbase event to an order",
		Long: "Replays the most advanced payment event recorded for the order, for deliveries that\n" +
			"arrived before the order existed. --force confirms without a recorded event; only use\n" +
			"it after checking the charge in the Coinbase Commerce dashboard.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.office.ConfirmCryptoOrder(cmd.Context(), normalizeOrderNumber(args[0]), force)
			if err != nil {
				return err
			}
			printOrder(cmd.OutOrStdout(), o)
			return nil
		},
	}
	confirmCrypto.Flags().BoolVar(&force, "force", false, "confirm even if no payment event was recorded")

	setStatus := &cobra.Command{
		Use:     "status <order-number> [new-status]",
		Short:   "Show an order, or move it to a new status",
		Example: "  storefront-admin orders status DT-7K2Q9B shipped",
		Args:    cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			number := normalizeOrderNumber(args[0])
			if len(args) == 1 {
				o, err := a.office.Order(cmd.Context(), number)
				if err != nil {
					return err
				}
				printOrder(cmd.OutOrStdout(), o)
				return nil
			}
			o, err := a.office.SetStatus(cmd.Context(), number, orders.Status(strings.ToLower(args[1])))
			if err != nil {
				return err
			}
			printOrder(cmd.OutOrStdout(), o)
			return nil
		},
	}

	cmd.AddCommand(list, confirmVenmo, confirmCrypto, setStatus)
	return cmd
}

func normalizeOrderNumber(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func printOrders(w io.Writer, list []orders.Order) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDER\tCREATED\tCUSTOMER\tTOTAL\tMETHOD\tPAYMENT\tSTATUS")
	for _, o := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			o.OrderNumber, o.CreatedAt.Format("2006-01-02 15:04"), o.Customer.Email,
			o.Totals.Total.StringFixed(2), o.PaymentMethod, o.PaymentStatus, o.Status)
	}
	_ = tw.Flush()
}

func printOrder(w io.Writer, o orders.Order) {
	fmt.Fprintf(w, "%s  %s / %s (%s)\n", o.OrderNumber, o.Status, o.PaymentStatus, o.PaymentMethod)
	fmt.Fprintf(w, "customer: %s <%s>\n", o.Customer.FullName(), o.Customer.Email)
	for _, it := range o.Items {
		fmt.Fprintf(w, "  %dx %s (%s) @ %s\n", it.Quantity, it.Name, it.SKU, it.UnitPrice.StringFixed(2))
	}
	fmt.Fprintf(w, "total: %s", o.Totals.Total.StringFixed(2))
	if o.Totals.DiscountCode != "" {
		fmt.Fprintf(w, " (code %s, -%s)", o.Totals.DiscountCode, o.Totals.DiscountAmount.StringFixed(2))
	}
	fmt.Fprintln(w)
	if o.CoinbaseChargeCode != "" {
		fmt.Fprintf(w, "charge: %s\n", o.CoinbaseChargeCode)
	}
}
