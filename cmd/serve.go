package cmd

import (
	"github.com/spf13/cobra"

	"github.com/chaos-io/bgremover/metrics"
	"github.com/chaos-io/bgremover/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the background remover web UI and API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveAddr != "" {
			cfg.Address = serveAddr
		}
		sessions, err := newSessions(cfg.Backend)
		if err != nil {
			return err
		}
		srv, err := server.New(cfg, sessions, metrics.NewRegistry())
		if err != nil {
			return err
		}
		return srv.Run(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", "", "listen address, overrides ADDRESS")
	rootCmd.AddCommand(serveCmd)
}
