package main

import (
	"fmt"

	"cdpnetmon/internal/config"
	"cdpnetmon/internal/logger"
	"cdpnetmon/internal/service"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	logLevel   string
	port       int

	cfg *config.Config
	log *logger.ZeroLogger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "cdpnetmon",
		Short:         "Passive network inspector for Chrome DevTools Protocol targets",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       service.Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.log != nil {
				return opts.log.Close()
			}
			return nil
		},
	}
	f := cmd.PersistentFlags()
	f.StringVarP(&opts.configPath, "config", "c", "", "path to a yaml config file")
	f.StringVar(&opts.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	f.IntVarP(&opts.port, "port", "p", 0, "remote debugging port (default from config, 9222)")

	cmd.AddCommand(newTargetsCmd(opts), newWatchCmd(opts), newArchivesCmd(opts))
	return cmd
}

// load 读取配置并初始化日志
func (o *rootOptions) load(cmd *cobra.Command) error {
	cfg := config.NewConfig()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.port != 0 {
		cfg.Monitor.Port = o.port
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	o.cfg = cfg
	o.log = logger.New(logger.Options{
		Level:      cfg.Log.Level,
		Writer:     cfg.Log.Writer,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		Console:    cmd.ErrOrStderr(),
	})
	return nil
}
