// Command gateway is the Signal Execution Gateway's operator CLI:
// serve runs the pipeline, emergency activates/restores the global
// emergency cell by hand, and audit verifies or exports the
// hash-chained decision log.
package main

import (
	"fmt"
	"os"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/spf13/cobra"
	"github.com/yanun0323/logs"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "gateway",
		Short: "Signal Execution Gateway",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the gateway's YAML configuration")

	root.AddCommand(newServeCmd())
	root.AddCommand(newEmergencyCmd())
	root.AddCommand(newAuditCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func startProfiler(appName string) func() {
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: appName,
		ServerAddress:   envOr("PYROSCOPE_SERVER_ADDRESS", "http://localhost:4040"),
		Tags:            map[string]string{"env": envOr("ENV", "local")},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
	if err != nil {
		logs.Warnf("gateway: profiler start failed: %v", err)
		return func() {}
	}
	return func() { _ = profiler.Stop() }
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
