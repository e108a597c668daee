// Package cli implements pipelinectl, the operator command line for the event pipeline.
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"storefront-pipeline/pipeline/internal/bus"
	"storefront-pipeline/pipeline/internal/deadletter"
	"storefront-pipeline/pipeline/internal/repos"
	"storefront-pipeline/shared/config"
	"storefront-pipeline/shared/events"
	"storefront-pipeline/shared/logx"
	"storefront-pipeline/shared/mqx"
	"storefront-pipeline/shared/queuex"
)

// Deps opens backing services lazily so commands such as config work without Redis.
type Deps struct {
	Config config.Config
	Logger logx.Logger
	In     io.Reader
	Out    io.Writer

	Store     func(ctx context.Context) (queuex.Store, error)
	Publisher func(ctx context.Context) (mqx.Publisher, error)
	DB        func(ctx context.Context) (repos.DBTX, error)
	Now       func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func NewRootCmd(d *Deps) *cobra.Command {
	root := &cobra.Command{
		Use:           "pipelinectl",
		Short:         "Operate the storefront event pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(d.In)
	root.SetOut(d.Out)
	root.AddCommand(EmitCmd(d))
	root.AddCommand(StatsCmd(d))
	root.AddCommand(DlqCmd(d))
	root.AddCommand(ConfigCmd(d))
	root.AddCommand(AnalyticsCmd(d))
	return root
}

func EmitCmd(d *Deps) *cobra.Command {
	var data string
	var mirror bool
	cmd := &cobra.Command{
		Use:   "emit",
		Short: "Emit one storefront event (JSON from --data or stdin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := data
			if raw == "" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read event: %w", err)
				}
				raw = string(b)
			}
			e, err := events.Decode(strings.TrimSpace(raw))
			if err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			if e.ID == "" {
				e.ID = uuid.NewString()
			}
			if e.Timestamp == 0 {
				e.Timestamp = d.now().UnixMilli()
			}

			ctx := cmd.Context()
			store, err := d.Store(ctx)
			if err != nil {
				return err
			}
			b := bus.New(store, d.Logger)
			if mirror {
				if d.Publisher == nil {
					return fmt.Errorf("mirror requested but no publisher configured")
				}
				pub, err := d.Publisher(ctx)
				if err != nil {
					return err
				}
				b.OnAll(bus.KafkaMirror(pub, d.Config.KafkaEventsTopic))
			}
			if err := b.Publish(ctx, e); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %s %s\n", e.Type, e.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "event JSON; read from stdin when empty")
	cmd.Flags().BoolVar(&mirror, "mirror", false, "also publish the event to KAFKA_TOPIC_EVENTS")
	return cmd
}

func StatsCmd(d *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue depths and dead letters per job type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manager(cmd.Context(), d)
			if err != nil {
				return err
			}
			stats, err := m.Stats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, q := range queuex.All() {
				fmt.Fprintf(out, "%-16s %d\n", q, stats.Queues[q])
			}
			for _, t := range stats.Types() {
				fmt.Fprintf(out, "failed %-24s %d\n", t, stats.FailedByType[t])
			}
			return nil
		},
	}
}

func DlqCmd(d *Deps) *cobra.Command {
	dlqCmd := &cobra.Command{
		Use:   "dlq",
		Short: "Manage dead-lettered jobs",
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manager(cmd.Context(), d)
			if err != nil {
				return err
			}
			entries, err := m.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "dead-letter queue is empty")
				return nil
			}
			for _, e := range entries {
				if e.Job == nil {
					fmt.Fprintf(out, "malformed\t%s\n", e.Err)
					continue
				}
				fmt.Fprintf(out, "%s\t%s\t%d\t%s\n", e.Job.ID, e.Job.Type, e.Job.Attempts, e.Job.LastError)
			}
			return nil
		},
	}
	listCmd.Flags().IntVar(&limit, "limit", 100, "maximum entries to show")

	var all bool
	selector := func(args []string) (string, error) {
		switch {
		case all && len(args) == 0:
			return "", nil
		case !all && len(args) == 1:
			return args[0], nil
		}
		return "", fmt.Errorf("pass exactly one of a job id or --all")
	}

	replayCmd := &cobra.Command{
		Use:   "replay [job-id]",
		Short: "Move dead-lettered jobs back to jobs:queue with attempts reset",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := selector(args)
			if err != nil {
				return err
			}
			m, err := manager(cmd.Context(), d)
			if err != nil {
				return err
			}
			n, err := m.Replay(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d job(s)\n", n)
			return nil
		},
	}
	replayCmd.Flags().BoolVar(&all, "all", false, "replay every dead-lettered job")

	purgeCmd := &cobra.Command{
		Use:   "purge [job-id]",
		Short: "Delete dead-lettered jobs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := selector(args)
			if err != nil {
				return err
			}
			m, err := manager(cmd.Context(), d)
			if err != nil {
				return err
			}
			n, err := m.Purge(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d job(s)\n", n)
			return nil
		},
	}
	purgeCmd.Flags().BoolVar(&all, "all", false, "purge every dead-lettered job")

	dlqCmd.AddCommand(listCmd)
	dlqCmd.AddCommand(replayCmd)
	dlqCmd.AddCommand(purgeCmd)
	return dlqCmd
}

func ConfigCmd(d *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := d.Config
			redact(&cfg.RedisPassword)
			redact(&cfg.InfluxToken)
			redact(&cfg.DatabaseURL)
			b, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}
}

func AnalyticsCmd(d *Deps) *cobra.Command {
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Count stored analytics rows per event type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if d.DB == nil {
				return fmt.Errorf("DATABASE_URL is required")
			}
			db, err := d.DB(cmd.Context())
			if err != nil {
				return err
			}
			counts, err := repos.NewAnalyticsRepo(db).CountsSince(cmd.Context(), d.now().Add(-since))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, c := range counts {
				name := c.EventType
				if c.Tag != "" {
					name += "/" + c.Tag
				}
				fmt.Fprintf(out, "%-32s %d\n", name, c.Count)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "look-back window")
	return cmd
}

func manager(ctx context.Context, d *Deps) (*deadletter.Manager, error) {
	store, err := d.Store(ctx)
	if err != nil {
		return nil, err
	}
	return deadletter.New(store, d.Logger), nil
}

func redact(s *string) {
	if *s != "" {
		*s = "***"
	}
}
