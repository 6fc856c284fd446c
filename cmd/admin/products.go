package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/darktidesresearch/storefront/internal/catalog"
	"github.com/darktidesresearch/storefront/internal/orders"
)

func productsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "products",
		Short: "List and edit catalog products",
	}

	var all bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List products by display order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ps, err := a.catalog.ListProducts(cmd.Context(), all)
			if err != nil {
				return err
			}
			printProducts(cmd.OutOrStdout(), ps)
			return nil
		},
	}
	list.Flags().BoolVar(&all, "all", false, "include inactive products")

	var in productFlags
	add := &cobra.Command{
		Use:     "add",
		Short:   "Create a product",
		Example: "  storefront-admin products add --name BPC-157 --sku BPC-5 --price 64.99 --stock 20",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := in.input(nil)
			if err != nil {
				return err
			}
			created, err := a.catalog.CreateProduct(cmd.Context(), p)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", created.SKU, created.ID)
			return nil
		},
	}
	in.register(add, true)

	var ed productFlags
	edit := &cobra.Command{
		Use:   "edit <id|sku>",
		Short: "Change a product's name, sku, price or display order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cur, err := a.catalog.FindProduct(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			ed.changed = cmd.Flags().Changed
			p, err := ed.input(&cur)
			if err != nil {
				return err
			}
			updated, err := a.catalog.UpdateProduct(cmd.Context(), cur.ID, p)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated %s\n", updated.SKU)
			return nil
		},
	}
	ed.register(edit, false)

	toggle := &cobra.Command{
		Use:   "toggle <id|sku>",
		Short: "Activate or deactivate a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cur, err := a.catalog.FindProduct(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			p, err := a.catalog.ToggleProduct(cmd.Context(), cur.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", p.SKU, activeLabel(p.IsActive))
			return nil
		},
	}

	var yes bool
	del := &cobra.Command{
		Use:   "delete <id|sku>",
		Short: "Delete a product; existing orders keep their snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cur, err := a.catalog.FindProduct(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !yes {
				return fmt.Errorf("refusing to delete %s without --yes", cur.SKU)
			}
			if err := a.catalog.DeleteProduct(cmd.Context(), cur.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", cur.SKU)
			return nil
		},
	}
	del.Flags().BoolVar(&yes, "yes", false, "confirm deletion")

	stock := &cobra.Command{
		Use:     "stock <id|sku> <quantity>",
		Short:   "Set on-hand stock",
		Example: "  storefront-admin products stock BPC-5 40",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("quantity must be a whole number: %q", args[1])
			}
			cur, err := a.catalog.FindProduct(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			p, err := a.catalog.SetStock(cmd.Context(), cur.ID, qty)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s stock %d (%d on hold, %d available)\n",
				p.SKU, p.StockQuantity, p.ReservedQuantity, p.Available())
			return nil
		},
	}

	cmd.AddCommand(list, add, edit, toggle, del, stock)
	return cmd
}

// productFlags collects add/edit flags. For edit only flags the operator set
// replace the current values.
type productFlags struct {
	name, sku, price, oldPrice string
	stock, order               int
	inactive                   bool
	changed                    func(string) bool
}

func (f *productFlags) register(cmd *cobra.Command, add bool) {
	fs := cmd.Flags()
	fs.StringVar(&f.name, "name", "", "product name")
	fs.StringVar(&f.sku, "sku", "", "stock keeping unit")
	fs.StringVar(&f.price, "price", "", "price in USD, e.g. 64.99")
	fs.StringVar(&f.oldPrice, "old-price", "", "struck-through price; empty clears it on edit")
	fs.IntVar(&f.order, "order", 0, "display order")
	if add {
		fs.IntVar(&f.stock, "stock", 0, "initial stock")
		fs.BoolVar(&f.inactive, "inactive", false, "create hidden")
		_ = cmd.MarkFlagRequired("name")
		_ = cmd.MarkFlagRequired("sku")
		_ = cmd.MarkFlagRequired("price")
	}
}

func (f *productFlags) input(cur *orders.Product) (catalog.ProductInput, error) {
	set := func(name string) bool { return cur == nil || (f.changed != nil && f.changed(name)) }
	var in catalog.ProductInput
	if cur != nil {
		in = catalog.ProductInput{
			Name:          cur.Name,
			SKU:           cur.SKU,
			Price:         cur.Price,
			OldPrice:      cur.OldPrice,
			StockQuantity: cur.StockQuantity,
			IsActive:      cur.IsActive,
			DisplayOrder:  cur.DisplayOrder,
		}
	} else {
		in.IsActive = !f.inactive
		in.StockQuantity = f.stock
	}
	if set("name") {
		in.Name = f.name
	}
	if set("sku") {
		in.SKU = f.sku
	}
	if set("price") {
		p, err := parseMoney(f.price)
		if err != nil {
			return in, err
		}
		in.Price = p
	}
	if set("old-price") {
		in.OldPrice = nil
		if f.oldPrice != "" {
			p, err := parseMoney(f.oldPrice)
			if err != nil {
				return in, err
			}
			in.OldPrice = &p
		}
	}
	if set("order") {
		in.DisplayOrder = f.order
	}
	return in, nil
}

func parseMoney(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return d, fmt.Errorf("invalid amount %q", s)
	}
	if d.IsNegative() {
		return d, fmt.Errorf("amount must not be negative: %s", s)
	}
	return d.Round(2), nil
}

func activeLabel(active bool) string {
	if active {
		return "active"
	}
	return "inactive"
}

func printProducts(w io.Writer, ps []orders.Product) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SKU\tNAME\tPRICE\tSTOCK\tHELD\tAVAILABLE\tSTATE\tID")
	for _, p := range ps {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			p.SKU, p.Name, p.Price.StringFixed(2), p.StockQuantity, p.ReservedQuantity, p.Available(), activeLabel(p.IsActive), p.ID)
	}
	_ = tw.Flush()
}
