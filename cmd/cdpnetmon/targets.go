package main

import (
	"cdpnetmon/internal/service"

	"github.com/spf13/cobra"
)

func newTargetsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "List attachable targets on the debugging port",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := service.New(root.cfg, root.log)
			defer svc.Close()

			targets, err := svc.ListTargets(cmd.Context(), root.cfg.Monitor.Port)
			if err != nil {
				return err
			}
			renderTargets(cmd.OutOrStdout(), targets)
			return nil
		},
	}
}
