package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"coop-quiz-service/internal/config"
	"coop-quiz-service/internal/infra/postgres"
)

// NewSeedCmd loads the seed file's courses into Postgres.
func NewSeedCmd(configPath *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load courses and questions from a YAML seed file into Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			if file == "" {
				file = cfg.Quiz.SeedFile
			}
			courses, err := config.LoadSeed(file)
			if err != nil {
				return err
			}

			db, err := openBun(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := postgres.SeedCourses(cmd.Context(), db, courses)
			if err != nil {
				return err
			}
			log.Info("seed applied",
				zap.String("file", file),
				zap.Int("courses", len(courses)),
				zap.Int("questions", n),
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "seed file (defaults to quiz.seed_file)")
	return cmd
}
