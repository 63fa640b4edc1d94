package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-to-csv/config"
	"github.com/dhcgn/mbox-to-csv/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the conversion over HTTP (POST /convert)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(cmd)
		if err != nil {
			return err
		}

		logger, closeLog, err := newLogger(cfg, os.Stdout)
		if err != nil {
			return err
		}
		defer closeLog()

		slog.SetDefault(logger)
		srv := server.New(conversionOptions(cfg, logger), logger)
		return srv.ListenAndServe(cmd.Context(), cfg.Listen)
	},
}

func init() {
	config.RegisterServeFlags(serveCmd)
	rootCmd.AddCommand(serveCmd)
}
