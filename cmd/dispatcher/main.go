// Command dispatcher is the CLI surface over the scheduling pipeline:
// running ticks, and the inspection/repair commands operators use to debug
// a stuck campaign or a miscounted mailbox. Grounded on urfave/cli/v2, the
// shape webitel-im-delivery-service's cmd/cmd.go uses for its own server
// command, extended here to the full admin command set the original
// implementation's cli/main.py exposes.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/sendloop/campaign-dispatcher/internal/arbiter"
	"github.com/sendloop/campaign-dispatcher/internal/clock"
	"github.com/sendloop/campaign-dispatcher/internal/config"
	"github.com/sendloop/campaign-dispatcher/internal/dispatcher"
	"github.com/sendloop/campaign-dispatcher/internal/host"
	"github.com/sendloop/campaign-dispatcher/internal/logging"
	"github.com/sendloop/campaign-dispatcher/internal/store"
	"github.com/sendloop/campaign-dispatcher/internal/store/pgstore"
	"github.com/sendloop/campaign-dispatcher/internal/transport"
	"github.com/sendloop/campaign-dispatcher/internal/worker"

	"github.com/rs/zerolog/log"
)

func main() {
	app := &cli.App{
		Name:  "dispatcher",
		Usage: "campaign dispatch and throttling CLI",
		Commands: []*cli.Command{
			initIndexesCmd(),
			runDispatcherCmd(),
			runContinuousCmd(),
			runWorkerCmd(),
			backfillProgressCmd(),
			recountRuntimeCmd(),
			listAccountsCmd(),
			listCampaignsCmd(),
			listLeadsCmd(),
			showDueLeadsCmd(),
			showLeadDetailsCmd(),
			checkRuntimeStatesCmd(),
			fixRuntimeStatesCmd(),
			makeLeadDueNowCmd(),
			resetLeadProgressCmd(),
			updateLeadStatusesCmd(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bootstrap wires config, logging, the store, and the day-boundary
// timezone, returning everything a command needs.
type bootstrap struct {
	cfg   *config.Config
	store store.Store
	clk   clock.Clock
	loc   *time.Location
}

func boot(c *cli.Context) (*bootstrap, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Configure(cfg.LogLevel, c.Bool("verbose"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not configured")
	}
	db, err := pgstore.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	loc, err := clock.ResolveZone(cfg.DayBoundaryTZ)
	if err != nil {
		loc = time.UTC
	}

	return &bootstrap{cfg: cfg, store: pgstore.New(db), clk: clock.Real{}, loc: loc}, nil
}

func newPipeline(b *bootstrap) *dispatcher.Dispatcher {
	a := arbiter.New(b.store, b.cfg.ReservationLockSeconds, b.loc)
	tr := transport.NewSMTP(b.cfg.SMTPStartTLS)
	w := worker.New(b.store, b.clk, a, tr)
	return dispatcher.New(b.store, b.clk, w)
}

func initIndexesCmd() *cli.Command {
	return &cli.Command{
		Name:  "init-indexes",
		Usage: "create tables and indexes required by the store",
		Action: func(c *cli.Context) error {
			b, err := boot(c)
			if err != nil {
				return err
			}
			if err := b.store.InitIndexes(c.Context); err != nil {
				return err
			}
			log.Info().Msg("schema initialized")
			return nil
		},
	}
}

func runDispatcherCmd() *cli.Command {
	return &cli.Command{
		Name:  "run-dispatcher",
		Usage: "run one dispatcher tick and exit",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "batch-size", Value: 0},
			&cli.BoolFlag{Name: "verbose"},
		},
		Action: func(c *cli.Context) error {
			b, err := boot(c)
			if err != nil {
				return err
			}
			batch := c.Int("batch-size")
			if batch <= 0 {
				batch = b.cfg.WorkerBatchSize
			}
			return newPipeline(b).RunOnce(c.Context, batch)
		},
	}
}

func runContinuousCmd() *cli.Command {
	return &cli.Command{
		Name:  "run-continuous",
		Usage: "run the dispatcher loop until SIGINT/SIGTERM",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "tick-seconds", Value: 0},
			&cli.IntFlag{Name: "batch-size", Value: 0},
			&cli.BoolFlag{Name: "verbose"},
		},
		Action: func(c *cli.Context) error {
			b, err := boot(c)
			if err != nil {
				return err
			}
			tick := c.Int("tick-seconds")
			if tick <= 0 {
				tick = b.cfg.DispatcherTickSeconds
			}
			batch := c.Int("batch-size")
			if batch <= 0 {
				batch = b.cfg.WorkerBatchSize
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			host.RunLoop(ctx, newPipeline(b), tick, batch)
			return nil
		},
	}
}

func runWorkerCmd() *cli.Command {
	return &cli.Command{
		Name:      "run-worker",
		Usage:     "process one batch for a single campaign",
		ArgsUsage: "CAMPAIGN",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "batch-size", Value: 0},
			&cli.BoolFlag{Name: "dry-run"},
			&cli.StringFlag{Name: "since"},
			&cli.BoolFlag{Name: "verbose"},
		},
		Action: func(c *cli.Context) error {
			campaignID := c.Args().First()
			if campaignID == "" {
				return fmt.Errorf("run-worker requires a CAMPAIGN argument")
			}
			b, err := boot(c)
			if err != nil {
				return err
			}
			batch := c.Int("batch-size")
			if batch <= 0 {
				batch = b.cfg.WorkerBatchSize
			}

			clk := b.clk
			if since := c.String("since"); since != "" {
				at, err := time.Parse(time.RFC3339, since)
				if err != nil {
					return fmt.Errorf("--since must be an ISO-8601 instant: %w", err)
				}
				clk = clock.Fixed{At: at.UTC()}
			}

			a := arbiter.New(b.store, b.cfg.ReservationLockSeconds, b.loc)
			tr := transport.NewSMTP(b.cfg.SMTPStartTLS)
			w := worker.New(b.store, clk, a, tr)
			return w.RunOnce(c.Context, campaignID, batch, c.Bool("dry-run"))
		},
	}
}

func backfillProgressCmd() *cli.Command {
	return &cli.Command{
		Name:      "backfill-progress",
		Usage:     "initialize progress for every untouched lead in a campaign",
		ArgsUsage: "CAMPAIGN",
		Action: func(c *cli.Context) error {
			campaignID := c.Args().First()
			if campaignID == "" {
				return fmt.Errorf("backfill-progress requires a CAMPAIGN argument")
			}
			b, err := boot(c)
			if err != nil {
				return err
			}
			n, err := b.store.BackfillLeadProgress(c.Context, campaignID)
			if err != nil {
				return err
			}
			fmt.Printf("backfilled %d leads\n", n)
			return nil
		},
	}
}

func recountRuntimeCmd() *cli.Command {
	return &cli.Command{
		Name:      "recount-runtime",
		Usage:     "rebuild a mailbox's sent_count for a given date from activities",
		ArgsUsage: "MAILBOX DATE",
		Action: func(c *cli.Context) error {
			mailboxID := c.Args().Get(0)
			dateKey := c.Args().Get(1)
			if mailboxID == "" || dateKey == "" {
				return fmt.Errorf("recount-runtime requires MAILBOX and DATE arguments")
			}
			b, err := boot(c)
			if err != nil {
				return err
			}
			dayStart, err := time.ParseInLocation("2006-01-02", dateKey, b.loc)
			if err != nil {
				return fmt.Errorf("DATE must be YYYY-MM-DD: %w", err)
			}
			dayEnd := dayStart.AddDate(0, 0, 1).Add(-time.Nanosecond)
			return b.store.RecountAccountRuntimeState(c.Context, mailboxID, dateKey, dayStart, dayEnd)
		},
	}
}

func listAccountsCmd() *cli.Command {
	return &cli.Command{
		Name:  "list-accounts",
		Usage: "list configured mailboxes",
		Action: func(c *cli.Context) error {
			b, err := boot(c)
			if err != nil {
				return err
			}
			mailboxes, err := b.store.ListMailboxes(c.Context)
			if err != nil {
				return err
			}
			for _, m := range mailboxes {
				fmt.Printf("%s\t%s\t%s\n", m.ID, m.Email, m.Status)
			}
			return nil
		},
	}
}

func listCampaignsCmd() *cli.Command {
	return &cli.Command{
		Name:  "list-campaigns",
		Usage: "list campaigns",
		Action: func(c *cli.Context) error {
			b, err := boot(c)
			if err != nil {
				return err
			}
			campaigns, err := b.store.ListCampaigns(c.Context)
			if err != nil {
				return err
			}
			for _, cm := range campaigns {
				fmt.Printf("%s\t%s\n", cm.ID, cm.Status)
			}
			return nil
		},
	}
}

func listLeadsCmd() *cli.Command {
	return &cli.Command{
		Name:      "list-leads",
		Usage:     "list leads in a campaign",
		ArgsUsage: "CAMPAIGN",
		Action: func(c *cli.Context) error {
			campaignID := c.Args().First()
			if campaignID == "" {
				return fmt.Errorf("list-leads requires a CAMPAIGN argument")
			}
			b, err := boot(c)
			if err != nil {
				return err
			}
			leads, err := b.store.ListLeads(c.Context, campaignID)
			if err != nil {
				return err
			}
			for _, l := range leads {
				step := 1
				stopped := false
				if l.Progress != nil {
					step = l.Progress.CurrentStepOrder
					stopped = l.Progress.Stopped
				}
				fmt.Printf("%s\tstep=%d\tstopped=%t\n", l.ID, step, stopped)
			}
			return nil
		},
	}
}

func showDueLeadsCmd() *cli.Command {
	return &cli.Command{
		Name:      "show-due-leads",
		Usage:     "show leads currently due for a campaign",
		ArgsUsage: "CAMPAIGN",
		Action: func(c *cli.Context) error {
			campaignID := c.Args().First()
			if campaignID == "" {
				return fmt.Errorf("show-due-leads requires a CAMPAIGN argument")
			}
			b, err := boot(c)
			if err != nil {
				return err
			}
			leads, err := b.store.GetDueLeads(c.Context, campaignID, b.clk.NowUTC(), 1000)
			if err != nil {
				return err
			}
			for _, l := range leads {
				fmt.Println(l.ID)
			}
			return nil
		},
	}
}

func showLeadDetailsCmd() *cli.Command {
	return &cli.Command{
		Name:      "show-lead-details",
		Usage:     "show a single lead's full progress record",
		ArgsUsage: "LEAD",
		Action: func(c *cli.Context) error {
			leadID := c.Args().First()
			if leadID == "" {
				return fmt.Errorf("show-lead-details requires a LEAD argument")
			}
			b, err := boot(c)
			if err != nil {
				return err
			}
			l, err := b.store.GetLead(c.Context, leadID)
			if err != nil {
				return err
			}
			fmt.Printf("id=%s campaign=%s\n", l.ID, l.CampaignID)
			if l.Progress == nil {
				fmt.Println("progress: untouched")
				return nil
			}
			fmt.Printf("step=%d stopped=%t reason=%q\n", l.Progress.CurrentStepOrder, l.Progress.Stopped, l.Progress.Reason)
			for k, v := range l.Progress.ProcessedRecipients {
				fmt.Printf("  %s -> %s at %s\n", k, v.Email, v.ProcessedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func checkRuntimeStatesCmd() *cli.Command {
	return &cli.Command{
		Name:  "check-runtime-states",
		Usage: "list account runtime state records",
		Action: func(c *cli.Context) error {
			b, err := boot(c)
			if err != nil {
				return err
			}
			states, err := b.store.ListAccountRuntimeStates(c.Context)
			if err != nil {
				return err
			}
			for _, st := range states {
				locked := "unlocked"
				if st.LockedUntil != nil {
					locked = st.LockedUntil.Format(time.RFC3339)
				}
				fmt.Printf("%s\t%s\tsent=%d\tnext=%s\tlocked_until=%s\n",
					st.MailboxID, st.DateKey, st.SentCount, st.NextAvailableAt.Format(time.RFC3339), locked)
			}
			return nil
		},
	}
}

func fixRuntimeStatesCmd() *cli.Command {
	return &cli.Command{
		Name:  "fix-runtime-states",
		Usage: "repair runtime state records with corrupt next_available_at values",
		Action: func(c *cli.Context) error {
			b, err := boot(c)
			if err != nil {
				return err
			}
			n, err := b.store.FixRuntimeStates(c.Context, b.clk.NowUTC())
			if err != nil {
				return err
			}
			fmt.Printf("repaired %d runtime state records\n", n)
			return nil
		},
	}
}

func makeLeadDueNowCmd() *cli.Command {
	return &cli.Command{
		Name:      "make-lead-due-now",
		Usage:     "force a lead to become immediately due",
		ArgsUsage: "LEAD",
		Action: func(c *cli.Context) error {
			leadID := c.Args().First()
			if leadID == "" {
				return fmt.Errorf("make-lead-due-now requires a LEAD argument")
			}
			b, err := boot(c)
			if err != nil {
				return err
			}
			return b.store.MakeLeadDueNow(c.Context, leadID, b.clk.NowUTC())
		},
	}
}

func resetLeadProgressCmd() *cli.Command {
	return &cli.Command{
		Name:      "reset-lead-progress",
		Usage:     "clear a lead's progress record entirely",
		ArgsUsage: "LEAD",
		Action: func(c *cli.Context) error {
			leadID := c.Args().First()
			if leadID == "" {
				return fmt.Errorf("reset-lead-progress requires a LEAD argument")
			}
			b, err := boot(c)
			if err != nil {
				return err
			}
			return b.store.ResetLeadProgress(c.Context, leadID)
		},
	}
}

func updateLeadStatusesCmd() *cli.Command {
	return &cli.Command{
		Name:      "update-lead-statuses",
		Usage:     "administrative status refresh for a campaign's leads",
		ArgsUsage: "CAMPAIGN",
		Action: func(c *cli.Context) error {
			campaignID := c.Args().First()
			if campaignID == "" {
				return fmt.Errorf("update-lead-statuses requires a CAMPAIGN argument")
			}
			b, err := boot(c)
			if err != nil {
				return err
			}
			n, err := b.store.UpdateLeadStatuses(c.Context, campaignID)
			if err != nil {
				return err
			}
			fmt.Printf("updated %d leads\n", n)
			return nil
		},
	}
}
