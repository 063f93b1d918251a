package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"courtbot/internal/app"
	"courtbot/internal/booking"
	"courtbot/internal/control"
	"courtbot/internal/storage"
	logx "courtbot/pkg/logx"
)

func newTargetsCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "targets",
		Short: "List or edit persisted booking targets",
		Long: "Edits the configured storage directly. Stop the bot first: a running bot keeps its own\n" +
			"copy and overwrites the stored state on its next change. Has no lasting effect with\n" +
			"storage.driver=memory.",
	}
	cmd.AddCommand(newTargetsListCmd(cfgPath))
	cmd.AddCommand(newTargetsAddCmd(cfgPath))
	cmd.AddCommand(newTargetsRemoveCmd(cfgPath))
	return cmd
}

func withOffline(cmd *cobra.Command, cfgPath string, fn func(ctx context.Context, o *app.Offline) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	o, err := app.OpenOffline(ctx, cfgPath, logx.NewWriter(cmd.ErrOrStderr(), "WARN"))
	if err != nil {
		return err
	}
	defer o.Close()
	if o.Driver == "memory" {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning: storage.driver is memory, changes are discarded on exit")
	}
	return fn(ctx, o)
}

func newTargetsListCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOffline(cmd, *cfgPath, func(_ context.Context, o *app.Offline) error {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tKIND\tDATE\tSTART\tMIN\tCOURT")
				for _, t := range o.Campaigns.List() {
					court := "-"
					if t.Kind == booking.KindBurst {
						court = strconv.Itoa(t.CourtID)
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", t.ShortID(), t.Kind, t.Date, t.Start, t.DurationMin, court)
				}
				return w.Flush()
			})
		},
	}
}

func newTargetsAddCmd(cfgPath *string) *cobra.Command {
	var (
		kind    string
		date    string
		start   string
		minutes int
		court   int
	)
	c := &cobra.Command{
		Use:   "add",
		Short: "Add a polling or burst target",
		RunE: func(cmd *cobra.Command, args []string) error {
			t := booking.Target{Kind: booking.Kind(kind), Date: date, Start: start, DurationMin: minutes, CourtID: court}
			switch t.Kind {
			case booking.KindPolling:
				t.CourtID = 0
			case booking.KindBurst:
				if court <= 0 {
					return errors.New("--court is required for burst targets")
				}
			default:
				return fmt.Errorf("--kind must be %s or %s", booking.KindPolling, booking.KindBurst)
			}
			return withOffline(cmd, *cfgPath, func(ctx context.Context, o *app.Offline) error {
				added, err := o.Campaigns.Add(ctx, t)
				audit(ctx, o.Store, "add_"+kind, added.ID, t.String(), err)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added %s (%s)\n", added.ShortID(), added.String())
				return nil
			})
		},
	}
	c.Flags().StringVar(&kind, "kind", string(booking.KindPolling), "polling or burst")
	c.Flags().StringVar(&date, "date", "", "slot date, YYYY-MM-DD")
	c.Flags().StringVar(&start, "start", "", "slot start, HH:MM")
	c.Flags().IntVar(&minutes, "minutes", 60, "slot length in minutes")
	c.Flags().IntVar(&court, "court", 0, "court id (burst only)")
	_ = c.MarkFlagRequired("date")
	_ = c.MarkFlagRequired("start")
	return c
}

func newTargetsRemoveCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Remove a target by id or unique id prefix",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOffline(cmd, *cfgPath, func(ctx context.Context, o *app.Offline) error {
				t, err := o.Campaigns.Resolve(args[0], control.MinPrefix)
				if err != nil {
					return err
				}
				ok, err := o.Campaigns.Remove(ctx, t.ID, booking.ReasonOperator)
				audit(ctx, o.Store, "remove", t.ID, t.String(), err)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("target %s already gone", t.ShortID())
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", t.ShortID())
				return nil
			})
		},
	}
}

func audit(ctx context.Context, st storage.Store, action, targetID, detail string, opErr error) {
	e := storage.AuditEntry{
		At:        time.Now(),
		RequestID: uuid.NewString(),
		Source:    "cli",
		Action:    action,
		TargetID:  targetID,
		Detail:    detail,
	}
	if u, err := user.Current(); err == nil {
		e.ActorUsername = u.Username
	}
	if opErr != nil {
		e.Error = opErr.Error()
	}
	if err := st.AppendAudit(ctx, e); err != nil {
		fmt.Fprintln(os.Stderr, "warning: audit write failed:", err)
	}
}
