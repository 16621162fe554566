// Package main is the entry point for the authorization server.
package main

import (
	"os"

	"github.com/spf13/viper"

	"github.com/openmedgrid/authz-server/cmd/authz-server/app"
	"github.com/openmedgrid/authz-server/pkg/logger"
)

func main() {
	viper.SetEnvPrefix("AUTHZ")
	viper.AutomaticEnv()

	logger.Initialize(viper.GetBool("debug") || os.Getenv("DEBUG") != "")
	defer func() { _ = logger.Sync() }()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
