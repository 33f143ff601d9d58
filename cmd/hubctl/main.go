package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"simats-hub/internal/auth"
	"simats-hub/internal/config"
	"simats-hub/internal/database"
	"simats-hub/internal/kv"
	"simats-hub/internal/logging"
	"simats-hub/internal/models"
	"simats-hub/internal/repository"
	"simats-hub/internal/service"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// storeOpener connects to the configured backend for the data commands.
type storeOpener func(ctx context.Context, log logrus.FieldLogger) (kv.Store, error)

func main() {
	_ = godotenv.Load()

	if err := newRootCmd(os.Stdout, openConfiguredStore).ExecuteContext(context.Background()); err != nil {
		// cobra already printed the error
		os.Exit(1)
	}
}

func openConfiguredStore(ctx context.Context, log logrus.FieldLogger) (kv.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return database.OpenStore(ctx, cfg, log)
}

func newRootCmd(out io.Writer, open storeOpener) *cobra.Command {
	root := &cobra.Command{
		Use:          "hubctl",
		Short:        "Operate the SIMATS faculty feedback hub",
		SilenceUsage: true,
	}
	root.SetOut(out)

	root.AddCommand(newTokenCmd(out))
	root.AddCommand(newFeedbackCmd(out, open))
	root.AddCommand(newCooldownCmd(out, open))
	return root
}

type tokenFlags struct {
	secret string
	sub    string
	email  string
	role   string
	ttl    time.Duration
	anon   bool
}

func newTokenCmd(out io.Writer) *cobra.Command {
	var flags tokenFlags
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token signed with JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.secret == "" {
				return fmt.Errorf("no signing secret: set JWT_SECRET or pass --secret")
			}
			id := auth.Identity{Role: flags.role}
			if !flags.anon {
				if flags.email == "" {
					return fmt.Errorf("--email is required for user tokens (or pass --anon)")
				}
				id.UserID = flags.sub
				if id.UserID == "" {
					id.UserID = uuid.NewString()
				}
				id.Email = flags.email
			}

			token, err := auth.Issue(flags.secret, id, flags.ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, token)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.secret, "secret", os.Getenv("JWT_SECRET"), "HMAC signing secret")
	f.StringVar(&flags.sub, "sub", "", "User id (random uuid when empty)")
	f.StringVar(&flags.email, "email", "", "User email, e.g. 192011234.simats@saveetha.com")
	f.StringVar(&flags.role, "role", "authenticated", "Role claim")
	f.DurationVar(&flags.ttl, "ttl", 24*time.Hour, "Token lifetime")
	f.BoolVar(&flags.anon, "anon", false, "Mint a read-only credential without a user")
	return cmd
}

func newFeedbackCmd(out io.Writer, open storeOpener) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Inspect stored feedback",
	}
	cmd.PersistentFlags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all feedback, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), open, func(svc *service.FeedbackService) error {
				entries, err := svc.ListFeedback(cmd.Context())
				if err != nil {
					return err
				}
				return printFeedback(out, entries, asJSON)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "search <query>",
		Short: "Search feedback by faculty name, course name or course code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), open, func(svc *service.FeedbackService) error {
				entries, err := svc.SearchFeedback(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printFeedback(out, entries, asJSON)
			})
		},
	})
	return cmd
}

func newCooldownCmd(out io.Writer, open storeOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "cooldown <author-id>",
		Short: "Show whether an author may post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), open, func(svc *service.FeedbackService) error {
				d, err := svc.CheckEligibility(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if d.Eligible {
					fmt.Fprintf(out, "%s can post now\n", args[0])
					return nil
				}
				at := time.UnixMilli(d.AvailableAt()).UTC().Format(time.RFC3339)
				fmt.Fprintf(out, "%s can post again in %d days (%s)\n", args[0], d.DaysRemaining, at)
				return nil
			})
		},
	}
}

func withService(ctx context.Context, open storeOpener, fn func(*service.FeedbackService) error) error {
	log, err := logging.New("warn", "text")
	if err != nil {
		return err
	}
	log.SetOutput(os.Stderr)

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	store, err := open(dialCtx, log)
	if err != nil {
		return err
	}
	defer store.Close(context.Background())

	svc := service.NewFeedbackService(repository.NewFeedbackRepo(store, log), log, service.WithCacheTTL(0))
	return fn(svc)
}

func printFeedback(out io.Writer, entries []models.Feedback, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Fprintln(out, "no feedback")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tCOURSE\tFACULTY\tRATING\tMARKS\tAUTHOR")
	for _, f := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
			time.UnixMilli(f.CreatedAt).UTC().Format("2006-01-02 15:04"),
			f.CourseCode+" "+f.CourseName,
			f.FacultyName,
			f.Rating,
			f.InternalMarks,
			f.UserName(),
		)
	}
	return tw.Flush()
}
