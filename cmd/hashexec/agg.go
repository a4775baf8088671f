package main

import (
	"github.com/spf13/cobra"
	"mit.edu/dsg/hashexec/execution"
	"mit.edu/dsg/hashexec/planner"
)

func (c *cli) newAggCmd() *cobra.Command {
	var (
		input     string
		groupBy   []int
		aggs      []string
		exactKeys bool
	)
	cmd := &cobra.Command{
		Use:   "agg",
		Short: "Group a CSV file and aggregate each group",
		Long: `Group the input by the group-by columns and compute one value per --agg clause for every group.
Clauses are func:column with func one of count, sum, min, max, single_value; count:* counts rows.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := readTable(input)
			if err != nil {
				return err
			}
			if err := t.checkColumns("group-by", groupBy); err != nil {
				return err
			}
			clauses := make([]planner.AggregateClause, len(aggs))
			names := make([]string, 0, len(groupBy)+len(aggs))
			for _, col := range groupBy {
				names = append(names, t.names[col])
			}
			for i, s := range aggs {
				if clauses[i], err = planner.ParseAggregateClause(s); err != nil {
					return err
				}
				if clauses[i].Column != planner.CountStar {
					if err := t.checkColumns("aggregate", []int{clauses[i].Column}); err != nil {
						return err
					}
				}
				names = append(names, clauses[i].String())
			}

			node := planner.NewAggregateNode(t.node, groupBy, clauses).
				WithInputEstimate(planner.Estimate{Rows: int64(len(t.node.Rows))})
			if exactKeys {
				node = node.WithTrimKeys(make([]bool, len(groupBy)))
			}
			root := execution.NewAggregateExecutor(node, execution.NewValuesExecutor(t.node))
			return c.run(cmd.Context(), root, names)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&input, "input", "", "input file")
	fs.IntSliceVar(&groupBy, "group-by", nil, "group-by columns")
	fs.StringArrayVar(&aggs, "agg", []string{"count:*"}, "aggregate clause, repeatable")
	fs.BoolVar(&exactKeys, "exact-keys", false, "treat trailing blanks of string group columns as significant")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}
