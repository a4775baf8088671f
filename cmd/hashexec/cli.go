package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"mit.edu/dsg/hashexec/common"
	"mit.edu/dsg/hashexec/config"
	"mit.edu/dsg/hashexec/execution"
	"mit.edu/dsg/hashexec/planner"
)

const (
	exitSuccess = 0
	exitUsage   = 1
	exitEngine  = 2
)

type cli struct {
	rootCmd *cobra.Command
	v       *viper.Viper
	stdout  io.Writer
	stderr  io.Writer

	configPath string
	orderBy    []string
	limit      int
	offset     int
	stats      bool

	cfg    config.Config
	logger *zap.Logger
}

func newCLI(stdout, stderr io.Writer) *cli {
	c := &cli{v: config.NewViper(), stdout: stdout, stderr: stderr}
	c.rootCmd = c.newRootCmd()
	return c
}

func (c *cli) execute(args []string) int {
	c.rootCmd.SetArgs(args)
	c.rootCmd.SetOut(c.stdout)
	c.rootCmd.SetErr(c.stderr)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	err := c.rootCmd.ExecuteContext(ctx)
	if c.logger != nil {
		_ = c.logger.Sync()
	}
	if err == nil {
		return exitSuccess
	}
	fmt.Fprintf(c.stderr, "hashexec: %v\n", err)
	if _, ok := common.ErrorCode(err); ok {
		return exitEngine
	}
	return exitUsage
}

func (c *cli) newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "hashexec",
		Short:         "Run spilling hash joins and aggregations over CSV files",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.initConfig()
		},
	}
	fs := cmd.PersistentFlags()
	fs.StringVar(&c.configPath, "config", "", "config file (yaml, toml or json)")
	fs.StringSliceVar(&c.orderBy, "order-by", nil, "sort the result by these columns (col or col:desc)")
	fs.IntVar(&c.limit, "limit", -1, "return at most this many rows (-1: all)")
	fs.IntVar(&c.offset, "offset", 0, "skip this many result rows")
	fs.BoolVar(&c.stats, "stats", false, "print engine metrics to stderr when done")
	if err := config.RegisterFlags(c.v, fs); err != nil {
		panic(err)
	}

	cmd.AddCommand(c.newJoinCmd())
	cmd.AddCommand(c.newAggCmd())
	return cmd
}

func (c *cli) initConfig() error {
	cfg, err := config.Load(c.v, c.configPath)
	if err != nil {
		return err
	}
	logger, err := common.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = logger
	return nil
}

// run drains root into w as CSV under a fresh executor context, then reports metrics when asked to.
func (c *cli) run(ctx context.Context, root execution.Executor, header []string) error {
	reg := prometheus.NewRegistry()
	ectx := execution.NewExecutorContext(ctx, c.cfg, c.logger, reg)
	if len(c.orderBy) > 0 {
		orderBy := make([]planner.OrderByClause, len(c.orderBy))
		for i, s := range c.orderBy {
			o, err := planner.ParseOrderByClause(s)
			if err != nil {
				return err
			}
			if o.Column >= len(header) {
				return fmt.Errorf("order-by column %d out of range for %d columns", o.Column, len(header))
			}
			orderBy[i] = o
		}
		root = execution.NewSortExecutor(planner.NewSortNode(root.PlanNode(), orderBy), root)
	}
	if c.limit >= 0 || c.offset > 0 {
		root = execution.NewLimitExecutor(limitNode(root, c.limit, c.offset), root)
	}
	if err := root.Init(ectx); err != nil {
		_ = root.Close()
		return err
	}
	rows, err := writeCSV(c.stdout, header, root)
	if cerr := root.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	c.logger.Info("done", zap.String("rows", humanize.Comma(int64(rows))))
	if c.stats {
		return c.printStats(reg)
	}
	return nil
}

func (c *cli) printStats(reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	var lines []string
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			op := ""
			for _, l := range m.GetLabel() {
				if l.GetName() == "operator" {
					op = l.GetValue()
				}
			}
			value := m.GetCounter().GetValue()
			if m.GetGauge() != nil {
				value = m.GetGauge().GetValue()
			}
			lines = append(lines, fmt.Sprintf("%s{operator=%q} %s", mf.GetName(), op,
				humanize.Comma(int64(value))))
		}
	}
	sort.Strings(lines)
	for _, l := range lines {
		fmt.Fprintln(c.stderr, l)
	}
	return nil
}
