package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/yaoapp/kun/log"
	"github.com/yaoapp/weave/config"
	"github.com/yaoapp/weave/engine"
	server "github.com/yaoapp/weave/server/http"
)

var (
	servePort    int
	serveScripts string
	serveWatch   bool
	serveDev     bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the host",
	Long: `Start the host: load the stored scripts and the script directory, run every
init function, then serve HTTP until SIGINT or SIGTERM. In-flight requests get
server.timeout to finish.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		if flags.Changed("port") {
			cfg.Server.Port = servePort
		}
		if flags.Changed("scripts") {
			cfg.Scripts.Dir = serveScripts
		}
		if flags.Changed("watch") {
			cfg.Scripts.Watch = serveWatch
		}
		if serveDev {
			cfg.Server.Mode = "development"
			cfg.Sandbox.Mode = "development"
		}
		cfg.Validate()
		cfg.Apply()

		if cfg.Production() {
			gin.SetMode(gin.ReleaseMode)
		}
		return serve(cfg)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "override server.port")
	serveCmd.Flags().StringVarP(&serveScripts, "scripts", "s", "", "override scripts.dir")
	serveCmd.Flags().BoolVarP(&serveWatch, "watch", "w", false, "reload scripts.dir on change")
	serveCmd.Flags().BoolVar(&serveDev, "dev", false, "development mode: error messages and stacks in responses")
	rootCmd.AddCommand(serveCmd)
}

func serve(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := engine.New(cfg)
	if err != nil {
		return err
	}
	defer e.Stop()

	if err := e.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	router, err := server.Router(e)
	if err != nil {
		return err
	}

	srv := server.New(router, server.Option{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Timeout: cfg.Server.Timeout,
	})

	errs := make(chan error, 1)
	go func() { errs <- srv.Start() }()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		log.Info("[Server] shutting down")
		if err := srv.Stop(); err != nil {
			return nil
		}
		return <-errs
	}
}
