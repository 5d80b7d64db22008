// Package cli implements eksupctl, the one-shot sequential executor: the
// same planning, preflight and upgrade operations the operator drives, run
// front to back in a single process with blocking waits.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

var verbose bool

var rootCmd = &cobra.Command{
	Use:          "eksupctl",
	Short:        "Upgrade an EKS cluster's control plane, add-ons and node groups",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := zapcore.WarnLevel
		if verbose {
			level = zapcore.DebugLevel
		}
		ctrl.SetLogger(zap.New(zap.UseDevMode(true), zap.Level(level)))
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the eksupctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "eksupctl %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(newUpgradeCommand())
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
