// Package main implements stripelist, a diagnostic tool that generates one
// placement group and prints how it spreads over the nodes.
//
// Example:
//
//	stripelist --nodes 4 --chunks 3 --data 2 --stripes 3
//	L1: ((2, 3), (1))
//	L2: ((2, 3), (4))
//	L3: ((2, 3), (1))
//
//	Load:
//	4 3 3 2  (min: 2, max: 4, average: 3.0)
//	...
//
// Every flag can also be set from the environment with a STRIPELIST_
// prefix, e.g. STRIPELIST_NODES=16.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dreamware/stripes/internal/logging"
	"github.com/dreamware/stripes/internal/placement"
)

func main() {
	if err := newCommand(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newCommand(out io.Writer) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("stripelist")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "stripelist",
		Short:         "Print the placement of one stripe group",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New(v.GetString("log-level"))
			cfg := placement.Config{
				Nodes:      v.GetInt("nodes"),
				Chunks:     v.GetInt("chunks"),
				DataChunks: v.GetInt("data"),
				GroupSize:  v.GetInt("stripes"),
			}
			strategy, err := placement.ParseStrategy(v.GetString("strategy"))
			if err != nil {
				return err
			}
			opts := placement.Options{
				Strategy:      strategy,
				DistinctNodes: v.GetBool("distinct-nodes"),
				CostTieBreak:  v.GetBool("cost-tie-break"),
			}
			log.WithFields(logrus.Fields{
				"nodes":    cfg.Nodes,
				"chunks":   cfg.Chunks,
				"data":     cfg.DataChunks,
				"stripes":  cfg.GroupSize,
				"strategy": strategy.String(),
			}).Debug("generating placement group")

			g, err := placement.Generate(cfg, opts)
			if err != nil {
				return err
			}
			if extra := v.GetInt("extend"); extra > 0 {
				if err := g.Extend(extra); err != nil {
					return err
				}
			}
			report(out, g, v.GetBool("verbose"))
			return nil
		},
	}

	f := cmd.Flags()
	f.IntP("nodes", "n", 4, "number of storage nodes")
	f.IntP("chunks", "s", 3, "chunks per stripe, data and parity")
	f.IntP("data", "k", 2, "data chunks per stripe")
	f.IntP("stripes", "g", 16, "stripes in the group")
	f.Int("extend", 0, "stripes appended after generation")
	f.String("strategy", placement.LoadAware.String(), "load-aware or round-robin")
	f.Bool("distinct-nodes", false, "keep data chunks off the stripe's parity nodes")
	f.Bool("cost-tie-break", false, "break equal loads by storage cost")
	f.BoolP("verbose", "v", false, "print the load vector after every stripe")
	f.String("log-level", "warn", "log level")
	_ = v.BindPFlags(f)
	return cmd
}

// report prints the stripe lines, load and cost vectors, the balance check
// and the signature repetition counts.
func report(out io.Writer, g *placement.Group, verbose bool) {
	records := g.Records()
	fmt.Fprint(out, placement.Render(records))
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Load:")
	if verbose {
		for i := range records {
			s, _ := g.Snapshot(i)
			fmt.Fprintf(out, "#%d: ", i)
			writeVector(out, s.Load, s.LoadSummary())
		}
	} else {
		state := g.State()
		writeVector(out, state.Load, state.LoadSummary())
	}
	fmt.Fprintln(out)

	state := g.State()
	fmt.Fprintln(out, "Storage cost:")
	writeVector(out, state.Cost, state.CostSummary())
	fmt.Fprintln(out)

	if err := placement.VerifyBalance(g); err != nil {
		fmt.Fprintf(out, "*** Property violated: %v ***\n\n", err)
	} else {
		fmt.Fprintf(out, "Balance: max - min <= %d holds after every stripe\n\n", g.Config().DataChunks)
	}

	stats := placement.GroupStatistics(records)
	fmt.Fprintln(out, "Number of unique stripe list:")
	fmt.Fprintf(out, "%d\n\n", stats.UniqueSignatures)

	fmt.Fprintln(out, "Number of repetitions:")
	for _, n := range stats.Repetitions {
		fmt.Fprintf(out, "%d ", n)
	}
	fmt.Fprintf(out, " (min: %d, max: %d, average: %.1f)\n",
		stats.RepetitionMin, stats.RepetitionMax, stats.RepetitionAverage)

	if verbose {
		keys, hist := stats.Histogram()
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Repetition histogram:")
		for _, k := range keys {
			fmt.Fprintf(out, "%d: %d\n", k, hist[k])
		}
	}
}

func writeVector(out io.Writer, values []int, sum placement.Summary) {
	for _, v := range values {
		fmt.Fprintf(out, "%d ", v)
	}
	fmt.Fprintf(out, " (min: %d, max: %d, average: %.1f)\n", sum.Min, sum.Max, sum.Average)
}
