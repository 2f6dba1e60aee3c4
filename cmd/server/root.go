package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/qcom/phoneauth/internal/config"
)

// Global flags available to all subcommands.
var envFile string

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "phoneauth",
		Short:         "Phone number authentication service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", "path to a .env file applied before reading the environment")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewProvisionAdminCmd())

	return cmd
}

func loadConfig() (*config.Config, error) {
	return config.Load(envFile)
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logger.WithField("level", level).Warn("Unknown log level, using info")
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}
