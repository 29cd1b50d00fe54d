package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tilerank/apps/chain/internal/store"
)

// replayCmd re-derives every stored board from its creation timestamp and move
// history and checks the result against the committed grid and score.
func replayCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "replay [board-id]",
		Short: "Verify stored boards by replaying their move history",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			db, err := store.Open(cfg.DBBackend, cfg.DataDir())
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()
			st, err := db.Load()
			if err != nil {
				return err
			}

			ids := st.BoardIDs()
			if len(args) == 1 {
				if _, ok := st.Boards[args[0]]; !ok {
					return fmt.Errorf("board %q not found at height %d", args[0], st.Height)
				}
				ids = args
			}
			out := cmd.OutOrStdout()
			var errs []error
			for _, id := range ids {
				b := st.Boards[id]
				if err := b.Verify(); err != nil {
					errs = append(errs, err)
					_, _ = fmt.Fprintf(out, "FAIL %s: %v\n", id, err)
					continue
				}
				_, _ = fmt.Fprintf(out, "ok   %s moves=%d score=%d\n", id, b.MoveCount, b.Score)
			}
			_, _ = fmt.Fprintf(out, "verified %d boards at height %d, %d failed\n", len(ids), st.Height, len(errs))
			return errors.Join(errs...)
		},
	}
}
