package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/shopfinder-crawler/internal/address"
	"github.com/JakeFAU/shopfinder-crawler/internal/locator"
)

// newParseAddressCmd creates the 'parse-address' subcommand. Lines separate
// address blocks on stdin; a "|" inside a block stands for a line break.
func newParseAddressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse-address [address...]",
		Short: "Splits address text into street, postal code and city",
		Example: `  shopfinder parse-address "Hauptstraße 5|80331 München"
  echo "Marienplatz 1, 80331 München" | shopfinder parse-address`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				sc := bufio.NewScanner(cmd.InOrStdin())
				for sc.Scan() {
					if line := strings.TrimSpace(sc.Text()); line != "" {
						args = append(args, line)
					}
				}
				if err := sc.Err(); err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
			}
			return printAddresses(cmd.OutOrStdout(), args)
		},
	}
}

func printAddresses(w io.Writer, inputs []string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "STREET\tPOSTAL CODE\tCITY\tFORMATTED")
	for _, in := range inputs {
		a := address.Parse(strings.ReplaceAll(in, "|", "\n"))
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.Street, a.PostalCode, a.City, address.Format(a))
	}
	return tw.Flush()
}

// newSelectorsCmd creates the 'selectors' subcommand.
func newSelectorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "selectors",
		Short: "Prints the effective selector table",
		Long: `Prints every locator field with its candidate queries in priority order,
after overrides from the config file's selectors section.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			table, err := locator.Build(e.cfg.Selectors)
			if err != nil {
				return err
			}
			return printSelectors(cmd.OutOrStdout(), table)
		},
	}
}

func printSelectors(w io.Writer, table locator.Table) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "FIELD\t#\tQUERY")
	for _, field := range table.Fields() {
		for i, q := range table[field] {
			_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\n", field, i+1, q)
		}
	}
	return tw.Flush()
}
