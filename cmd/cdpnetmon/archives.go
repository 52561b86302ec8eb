package main

import (
	"cdpnetmon/internal/service"
	"cdpnetmon/pkg/domain"

	"github.com/spf13/cobra"
)

func newArchivesCmd(root *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "archives [id]",
		Short: "List archived snapshots, or show the requests of one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := service.New(root.cfg, root.log)
			defer svc.Close()

			if len(args) == 1 {
				recs, err := svc.LoadArchive(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				renderRecords(cmd.OutOrStdout(), recs, map[domain.RequestID]bool{})
				return nil
			}
			infos, err := svc.ListArchives(cmd.Context(), limit)
			if err != nil {
				return err
			}
			renderArchives(cmd.OutOrStdout(), infos)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of archives to list")
	return cmd
}
