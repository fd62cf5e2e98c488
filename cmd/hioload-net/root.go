// File: cmd/hioload-net/root.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// envPrefix namespaces environment overrides, e.g. HIOLOAD_ADDR=:7000.
const envPrefix = "hioload"

var rootCmd = &cobra.Command{
	Use:   "hioload-net",
	Short: "reactor-style TCP server",
	Long: fmt.Sprintf(`hioload-net (v%s)

A multi-reactor TCP server: one epoll event loop per OS thread, an acceptor
on the home loop and connections spread over a pool of worker loops.`, Version),
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// initConfig loads .env files and enables environment overrides.
func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")
	configureViper(viper.GetViper())
}

func configureViper(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// Execute runs the root command; main calls it once.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
