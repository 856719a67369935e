// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// beamsearch autotunes loop-nest kernels on the registered devices.
//
// Examples:
//
//	beamsearch search --kernel=matmul --shape=256,256,256 --width=4
//	beamsearch measure --kernel=reduce_sum --shape=1024,1024 --axes=1 --opts=UPCAST:0:4,GROUPTOP:0:16
//	beamsearch actions --kernel=matmul --shape=64,64,64
//	beamsearch cache stats
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/autotune/pkg/devices/cpu"
)

var (
	flagConfigFile string
	flagDevice     string
	flagMetrics    bool

	rootCmd = &cobra.Command{
		Use:   "beamsearch",
		Short: "Beam search autotuner of loop-nest kernels",
		Long: `beamsearch explores the optimization moves (upcast, unroll, local, group) of a kernel,
measuring every candidate on the device, and reports the fastest variant found.

Results are memoized in a persistent cache, see the "cache" subcommand.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadSettings(cmd)
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if flagMetrics {
				dumpMetrics(os.Stdout)
			}
			klog.Flush()
		},
	}
)

func init() {
	goFlags := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(goFlags)
	rootCmd.PersistentFlags().AddGoFlagSet(goFlags)

	rootCmd.PersistentFlags().StringVar(&flagConfigFile, "config", "",
		"YAML file with the device, kernel and search settings. Command-line flags take precedence.")
	rootCmd.PersistentFlags().StringVar(&flagDevice, "device", "",
		`Device configuration "<name>:<config>", e.g. "cpu:workers=4". Defaults to $AUTOTUNE_DEVICE or the first registered device.`)
	rootCmd.PersistentFlags().BoolVar(&flagMetrics, "metrics", false, "Dump the collected metrics at the end, in Prometheus text format.")
	addSearchFlags(rootCmd)
	rootCmd.AddCommand(searchCmd, measureCmd, actionsCmd, cacheCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		klog.Flush()
		cancel()
		os.Exit(1)
	}
}
