package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

type menuItem struct {
	label   string
	prompts []string
	// build turns the answers into a command line
	build func(answers []string) []string
}

var menu = []menuItem{
	{label: "List products", build: func([]string) []string { return []string{"products", "list", "--all"} }},
	{label: "Set stock", prompts: []string{"Product id or SKU", "New stock quantity"},
		build: func(a []string) []string { return []string{"products", "stock", a[0], a[1]} }},
	{label: "Toggle product", prompts: []string{"Product id or SKU"},
		build: func(a []string) []string { return []string{"products", "toggle", a[0]} }},
	{label: "Add product", prompts: []string{"Name", "SKU", "Price", "Initial stock"},
		build: func(a []string) []string {
			return []string{"products", "add", "--name", a[0], "--sku", a[1], "--price", a[2], "--stock", a[3]}
		}},
	{label: "List discount codes", build: func([]string) []string { return []string{"discounts", "list"} }},
	{label: "Add discount code", prompts: []string{"Code", "Type (percentage/fixed)", "Value"},
		build: func(a []string) []string { return []string{"discounts", "add", a[0], "--type", a[1], "--value", a[2]} }},
	{label: "Toggle discount code", prompts: []string{"Code"},
		build: func(a []string) []string { return []string{"discounts", "toggle", a[0]} }},
	{label: "Pending orders", build: func([]string) []string { return []string{"orders", "list", "--status", "pending"} }},
	{label: "Confirm Venmo payment", prompts: []string{"Order number"},
		build: func(a []string) []string { return []string{"orders", "confirm-venmo", a[0]} }},
	{label: "Recover crypto order", prompts: []string{"Order number"},
		build: func(a []string) []string { return []string{"orders", "confirm-crypto", a[0]} }},
	{label: "Mark order shipped", prompts: []string{"Order number"},
		build: func(a []string) []string { return []string{"orders", "status", a[0], "shipped"} }},
}

func interactiveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "interactive",
		Short: "Menu-driven session; also accepts any subcommand typed as-is",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInteractive(cmd.InOrStdin(), cmd.OutOrStdout(), func(args []string) error {
				if args[0] == cmd.Name() {
					return errors.New("already in interactive mode")
				}
				sub := newRootCmd(a)
				sub.SetArgs(args)
				sub.SetOut(cmd.OutOrStdout())
				sub.SetErr(cmd.ErrOrStderr())
				return sub.ExecuteContext(cmd.Context())
			})
		},
	}
}

// runInteractive reads one choice per line until "q" or end of input. A
// failed action is reported and the session continues.
func runInteractive(in io.Reader, out io.Writer, run func(args []string) error) error {
	sc := bufio.NewScanner(in)
	ask := func(prompt string) (string, bool) {
		fmt.Fprintf(out, "%s: ", prompt)
		if !sc.Scan() {
			return "", false
		}
		return strings.TrimSpace(sc.Text()), true
	}

	for {
		printMenu(out)
		line, ok := ask("Choice")
		if !ok {
			return sc.Err()
		}
		if line == "" {
			continue
		}
		if line == "q" || line == "quit" || line == "exit" {
			return nil
		}

		var args []string
		if n, err := parseChoice(line); err == nil {
			item := menu[n-1]
			answers := make([]string, 0, len(item.prompts))
			for _, p := range item.prompts {
				ans, ok := ask(p)
				if !ok {
					return sc.Err()
				}
				answers = append(answers, ans)
			}
			args = item.build(answers)
		} else {
			args = strings.Fields(line)
		}

		if err := run(args); err != nil {
			fmt.Fprintln(out, "Error:", err)
		}
		fmt.Fprintln(out)
	}
}

var errNotAChoice = errors.New("not a menu number")

func parseChoice(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil || fmt.Sprint(n) != s {
		return 0, errNotAChoice
	}
	if n < 1 || n > len(menu) {
		return 0, errNotAChoice
	}
	return n, nil
}

func printMenu(w io.Writer) {
	for i, m := range menu {
		fmt.Fprintf(w, "%2d) %s\n", i+1, m.label)
	}
	fmt.Fprintln(w, " q) Quit")
}
