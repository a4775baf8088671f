package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"mit.edu/dsg/hashexec/execution"
	"mit.edu/dsg/hashexec/planner"
)

type joinFlags struct {
	probe, build         string
	probeKeys, buildKeys []int
	kind                 string
	project              []int
	exactKeys            bool
}

func (c *cli) newJoinCmd() *cobra.Command {
	var f joinFlags
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join two CSV files on equal keys",
		Long: `Join the probe file with the build file. The build file is loaded into the hash table first;
when it does not fit into cache_pages both inputs are partitioned to disk and joined piece by piece.

Kinds: inner, left, right, full, left_semi, left_anti, right_semi, right_anti, intersect, except.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runJoin(cmd, f)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&f.probe, "probe", "", "probe (left) input file")
	fs.StringVar(&f.build, "build", "", "build (right) input file")
	fs.IntSliceVar(&f.probeKeys, "probe-keys", []int{0}, "key columns of the probe input")
	fs.IntSliceVar(&f.buildKeys, "build-keys", []int{0}, "key columns of the build input")
	fs.StringVar(&f.kind, "kind", "inner", "join kind")
	fs.IntSliceVar(&f.project, "project", nil, "output columns of the joined row (default: all)")
	fs.BoolVar(&f.exactKeys, "exact-keys", false, "treat trailing blanks of string keys as significant")
	_ = cmd.MarkFlagRequired("probe")
	_ = cmd.MarkFlagRequired("build")
	return cmd
}

func (c *cli) runJoin(cmd *cobra.Command, f joinFlags) error {
	kind, err := planner.ParseJoinKind(f.kind)
	if err != nil {
		return err
	}
	probe, err := readTable(f.probe)
	if err != nil {
		return err
	}
	build, err := readTable(f.build)
	if err != nil {
		return err
	}
	if err := probe.checkColumns("probe key", f.probeKeys); err != nil {
		return err
	}
	if err := build.checkColumns("build key", f.buildKeys); err != nil {
		return err
	}

	node := planner.NewHashJoinNode(probe.node, build.node, f.probeKeys, f.buildKeys, kind).
		WithBuildEstimate(planner.Estimate{Rows: int64(len(build.node.Rows))})
	var names []string
	if kind.ReturnsProbe() {
		names = append(names, probe.names...)
	}
	if kind.ReturnsBuild() {
		names = append(names, build.names...)
	}
	if f.project != nil {
		projected := make([]string, len(f.project))
		for i, col := range f.project {
			if col < 0 || col >= len(names) {
				return fmt.Errorf("output column %d out of range for %d columns", col, len(names))
			}
			projected[i] = names[col]
		}
		names = projected
		node = node.WithOutputProjection(f.project)
	}
	if f.exactKeys {
		trim := make([]bool, len(f.probeKeys))
		node = node.WithTrimKeys(trim)
	}

	root := execution.NewHashJoinExecutor(node,
		execution.NewValuesExecutor(probe.node), execution.NewValuesExecutor(build.node))
	return c.run(cmd.Context(), root, names)
}
