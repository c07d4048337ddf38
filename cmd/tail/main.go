package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackmichael/hub-notifier/internal/client"
	"github.com/blackmichael/hub-notifier/internal/domain"
)

var (
	notifierURL string
	types       []string
	fids        []uint
	mentions    []uint
	replyTo     []uint
	all         bool
	backfill    int
	expr        string
	maxRetries  int
	jsonOutput  bool
	verbose     bool
)

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var rootCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print notifier events as they happen",
	Long: `Subscribe to a hub notifier and print every event that matches the filter.
The connection is re-established after failures and resumes after the last
printed event.`,
	Example: `  tail --mention 3                 # casts mentioning fid 3
  tail --reply-to 3 --backfill 0   # replies to fid 3, no history
  tail --type CAST_ADD --fid 2,5   # casts by fid 2 or 5
  tail --all --expr 'fid < 1000'   # everything from early accounts`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return tail(ctx, cmd.OutOrStdout())
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&notifierURL, "url", envOrDefault("NOTIFIER_URL", "ws://localhost:3000"), "notifier base URL")
	f.StringSliceVar(&types, "type", nil, "event types to match (e.g. CAST_ADD,LINK_ADD)")
	f.UintSliceVar(&fids, "fid", nil, "originator fids to match")
	f.UintSliceVar(&mentions, "mention", nil, "match casts mentioning these fids")
	f.UintSliceVar(&replyTo, "reply-to", nil, "match replies to casts by these fids")
	f.BoolVar(&all, "all", false, "match every event")
	f.IntVar(&backfill, "backfill", -1, "recent events to replay on connect (-1 for the server default)")
	f.StringVar(&expr, "expr", "", "CEL predicate evaluated against each event")
	f.IntVar(&maxRetries, "max-retries", 0, "give up after this many failed connection attempts (0 retries forever)")
	f.BoolVar(&jsonOutput, "json", false, "print events as JSON lines")
	f.BoolVarP(&verbose, "verbose", "v", false, "log connection status")
}

func tail(ctx context.Context, out io.Writer) error {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	opts := client.Options{
		URL:        notifierURL,
		Types:      types,
		FIDs:       toIDs(fids),
		Mentions:   toIDs(mentions),
		ReplyTo:    toIDs(replyTo),
		All:        all,
		Backfill:   backfill,
		Expr:       expr,
		MaxRetries: maxRetries,
		OnStatus: func(s domain.SessionStatus) {
			logger.Info("connection status", "status", s)
		},
	}

	enc := json.NewEncoder(out)
	printEvent := func(e domain.Event) error {
		if jsonOutput {
			return enc.Encode(e)
		}
		ts := time.Unix(int64(e.Timestamp), 0).UTC().Format(time.RFC3339)
		_, err := fmt.Fprintf(out, "%d\t%s\t%-16s\t%s\n", e.SequenceID, ts, e.Type, e.Description)
		return err
	}

	err := client.New(opts, logger).Run(ctx, printEvent)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func toIDs(in []uint) []uint64 {
	out := make([]uint64, len(in))
	for i, v := range in {
		out[i] = uint64(v)
	}
	return out
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
