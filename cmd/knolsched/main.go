package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/conorfennell/knolsched/internal/config"
	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/fsrs"
	"github.com/conorfennell/knolsched/internal/logging"
	"github.com/conorfennell/knolsched/internal/review"
	"github.com/conorfennell/knolsched/internal/storage"
)

const usage = `Usage: knolsched [flags] <command> [args]

Commands:
  add <front> <back> [example]   Add a card, due immediately
  due [limit]                    List cards due now (default limit 20)
  review <id> <rating>           Grade a card: again, hard, good, easy or 1-4
  preview <id>                   Show the outcome of each rating
  rebuild [id...]                Replay review history under the current parameters
  remove <id>                    Delete a card and its history
  stats                          Summarize the collection

Flags:
`

func main() {
	// 1. Define and parse global flags; the command follows them.
	fs := pflag.NewFlagSet("knolsched", pflag.ExitOnError)
	fs.SetInterspersed(false)
	config.RegisterFlags(fs)
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	fs.Parse(os.Args[1:])

	args := fs.Args()
	if len(args) == 0 {
		fs.Usage()
		os.Exit(2)
	}

	// 2. Load configuration and build the logger.
	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}

	params, err := cfg.Scheduler.Params()
	if err != nil {
		log.Fatalf("Invalid scheduler parameters: %v", err)
	}
	scheduler, err := fsrs.NewScheduler(params)
	if err != nil {
		log.Fatalf("Failed to create scheduler: %v", err)
	}

	// 3. Open the database
	db, err := storage.Open(cfg.DB)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	logger.Debug("Database opened", "path", cfg.DB)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// 4. Run the command
	svc := review.NewService(db, scheduler, review.WithLogger(logger))
	if err := run(ctx, svc, args[0], args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		db.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, svc *review.Service, cmd string, args []string) error {
	switch cmd {
	case "add":
		if len(args) < 2 || len(args) > 3 {
			return errors.New("add needs <front> <back> [example]")
		}
		card := domain.Card{Front: args[0], Back: args[1]}
		if len(args) == 3 {
			card.Example = args[2]
		}
		rec, inserted, err := svc.Add(ctx, card)
		if err != nil {
			return err
		}
		if !inserted {
			fmt.Printf("Card already exists: %s\n", rec.Memory.ID)
			return nil
		}
		fmt.Printf("Added card %s\n", rec.Memory.ID)

	case "due":
		limit := 20
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 1 {
				return fmt.Errorf("invalid limit %q", args[0])
			}
			limit = n
		}
		cards, err := svc.Due(ctx, limit)
		if err != nil {
			return err
		}
		fmt.Printf("%d cards due.\n", len(cards))
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, c := range cards {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.Memory.ID, c.Memory.State, c.Memory.Due.Local().Format(time.DateTime), oneLine(c.Content.Front))
		}
		w.Flush()

	case "review":
		if len(args) != 2 {
			return errors.New("review needs <id> <rating>")
		}
		rating, err := fsrs.ParseRating(args[1])
		if err != nil {
			return err
		}
		card, err := svc.Review(ctx, args[0], rating)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s, due %s (%s)\n", rating, card.State, card.Due.Local().Format(time.DateTime), describeWait(card))

	case "preview":
		if len(args) != 1 {
			return errors.New("preview needs <id>")
		}
		outcomes, err := svc.Preview(ctx, args[0])
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RATING\tSTATE\tDUE\tWAIT\tSTABILITY\tDIFFICULTY")
		for _, r := range fsrs.Ratings {
			c := outcomes[r]
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\t%.2f\n", r, c.State, c.Due.Local().Format(time.DateTime), describeWait(c), c.Stability, c.Difficulty)
		}
		w.Flush()

	case "rebuild":
		if len(args) == 0 {
			n, err := svc.RebuildAll(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Rebuilt %d cards.\n", n)
			return nil
		}
		for _, id := range args {
			card, err := svc.Rebuild(ctx, id)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s, due %s\n", id, card.State, card.Due.Local().Format(time.DateTime))
		}

	case "remove":
		if len(args) != 1 {
			return errors.New("remove needs <id>")
		}
		if err := svc.Remove(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Removed card %s\n", args[0])

	case "stats":
		st, err := svc.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Cards: %d (%d due), reviews: %d\n", st.Total, st.Due, st.Reviews)
		for _, s := range []fsrs.State{fsrs.New, fsrs.Learning, fsrs.Review, fsrs.Relearning} {
			fmt.Printf("  %-10s %d\n", s, st.ByState[s])
		}

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

// describeWait renders the gap until the card is due: whole days for review
// intervals, the step delay otherwise.
func describeWait(c fsrs.Card) string {
	if c.ScheduledDays > 0 {
		return fmt.Sprintf("%dd", c.ScheduledDays)
	}
	if c.LastReview == nil {
		return "now"
	}
	return c.Due.Sub(*c.LastReview).String()
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > 60 {
		return string(r[:57]) + "..."
	}
	return s
}
