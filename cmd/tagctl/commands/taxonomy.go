package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/benvon/tagmatch/internal/taxonomy"
	"github.com/spf13/cobra"
)

func newTaxonomyCmd() *cobra.Command {
	var (
		file       string
		asJSON     bool
		onlyParent string
	)
	cmd := &cobra.Command{
		Use:   "taxonomy",
		Short: "Print the tag taxonomy with its assigned IDs",
		Long:  "Print the embedded taxonomy, or the YAML file given with --file, as ID, level, name and parent.",
		RunE: func(cmd *cobra.Command, args []string) error {
			mapping, err := taxonomy.Load(file)
			if err != nil {
				return fmt.Errorf("load taxonomy: %w", err)
			}

			tags := mapping.Tags()
			if onlyParent != "" {
				id, ok := mapping.IDByName(onlyParent)
				if !ok {
					return fmt.Errorf("unknown tag %q", onlyParent)
				}
				parent, _ := mapping.Lookup(id)
				tags = append([]taxonomy.Tag{parent}, mapping.Children(id)...)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, tags)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tLEVEL\tNAME\tPARENT")
			for _, t := range tags {
				parent := "-"
				if t.ParentID != 0 {
					parent = fmt.Sprintf("%s (#%d)", t.ParentName, t.ParentID)
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", t.ID, t.Level, t.Name, parent)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "\n%d primary, %d secondary\n", mapping.PrimaryCount(), mapping.SecondaryCount())
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Taxonomy YAML file (default: embedded taxonomy)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	cmd.Flags().StringVar(&onlyParent, "primary", "", "Only print this primary tag and its secondary tags")
	return cmd
}
