package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/kiranshivaraju/wavedeck/internal/config"
	"github.com/kiranshivaraju/wavedeck/internal/jobs"
	"github.com/kiranshivaraju/wavedeck/internal/queue"
	"github.com/kiranshivaraju/wavedeck/pkg/models"
	"github.com/spf13/cobra"
)

// uploadSeeder is the slice of store.Store the seed command needs.
type uploadSeeder interface {
	CountUploads(ctx context.Context) (int64, error)
	CreateUpload(ctx context.Context, upload *models.Upload) error
}

// deps are the collaborators shared by every subcommand.
type deps struct {
	cfg     *config.Config
	store   jobs.JobStore
	queue   queue.Queue
	uploads uploadSeeder
	migrate func(dir string) error
}

func newRootCmd(d *deps) *cobra.Command {
	root := &cobra.Command{
		Use:           "wavedeckctl",
		Short:         "Inspect and repair wavedeck inference jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(migrateCmd(d))
	root.AddCommand(statusCmd(d))
	root.AddCommand(sweepCmd(d))
	root.AddCommand(queueCmd(d))
	root.AddCommand(seedCmd(d))
	return root
}

func migrateCmd(d *deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			if err := d.migrate(dir); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
	cmd.Flags().String("dir", "migrations", "Directory holding the migration files")
	return cmd
}

// statusCmd prints the reconciled status of one job. Reading a status may
// persist the reconciled result, exactly as the API does.
func statusCmd(d *deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <jobId>",
		Short: "Show the reconciled status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || jobID < 1 {
				return fmt.Errorf("jobId must be a positive integer, got %q", args[0])
			}
			userID, _ := cmd.Flags().GetInt64("user")
			if userID == 0 {
				userID = d.cfg.Server.DefaultUserID
			}

			svc := jobs.NewService(d.store, d.queue, jobs.Options{
				BaseURL: d.cfg.Server.BaseURL,
				Logger:  slog.Default(),
			})
			view, err := svc.GetStatus(cmd.Context(), jobs.StatusQuery{
				RequestID: "wavedeckctl",
				JobID:     jobID,
				UserID:    userID,
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(view)
		},
	}
	cmd.Flags().Int64("user", 0, "Owner of the job (defaults to DEFAULT_USER_ID)")
	return cmd
}

func sweepCmd(d *deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one pass over pending jobs that never reached the queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			staleAfter, _ := cmd.Flags().GetDuration("stale-after")
			if staleAfter <= 0 {
				staleAfter = d.cfg.Sweep.StaleAfter
			}

			sw := jobs.NewSweeper(d.store, d.queue, d.cfg.Sweep.Interval, staleAfter, slog.Default())
			n, err := sw.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "resolved %d stale pending job(s)\n", n)
			return nil
		},
	}
	cmd.Flags().Duration("stale-after", 0, "Minimum job age (defaults to SWEEP_STALE_AFTER)")
	return cmd
}

func queueCmd(d *deps) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show how many inference entries are waiting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := d.queue.WaitingCount(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queue %s: %d waiting\n", d.cfg.Queue.Name, n)
			return nil
		},
	}
}

// sampleUploads are inserted by seed into an empty development database.
var sampleUploads = []models.Upload{
	{UserID: 1, Type: "audio/wav", FileName: "sample_audio_1.wav", FileSize: 512 << 10, Duration: 30500, FilePath: "audio/1/sample_audio_1.wav"},
	{UserID: 1, Type: "audio/mpeg", FileName: "short_speech.mp3", FileSize: 256 << 10, Duration: 15200, FilePath: "audio/1/short_speech.mp3"},
	{UserID: 1, Type: "audio/mpeg", FileName: "long_podcast_segment.mp3", FileSize: 2 << 20, Duration: 180000, FilePath: "audio/1/long_podcast_segment.mp3"},
	{UserID: 2, Type: "audio/mpeg", FileName: "sample2.mp3", FileSize: 200 << 10, Duration: 60000, FilePath: "audio/2/sample2.mp3"},
}

// seedCmd inserts sample upload records. It only runs against a development
// environment and skips a database that already holds uploads.
func seedCmd(d *deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert sample uploads into an empty development database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			force, _ := cmd.Flags().GetBool("force")
			if d.cfg.Server.Env != "development" && !force {
				return fmt.Errorf("refusing to seed %q environment without --force", d.cfg.Server.Env)
			}

			n, err := d.uploads.CountUploads(cmd.Context())
			if err != nil {
				return err
			}
			if n > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "uploads table holds %d row(s), skipping seed\n", n)
				return nil
			}

			for _, sample := range sampleUploads {
				u := sample
				u.FilePreviewURL = "/" + u.FilePath
				if err := d.uploads.CreateUpload(cmd.Context(), &u); err != nil {
					return fmt.Errorf("seed %s: %w", u.FileName, err)
				}
				slog.Info("seeded upload", "upload_id", u.ID, "user_id", u.UserID, "file_name", u.FileName)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d upload(s)\n", len(sampleUploads))
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "Seed even when WAVEDECK_ENV is not development")
	return cmd
}
