package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/noah-isme/cekresi/internal/bulk"
	"github.com/noah-isme/cekresi/internal/courier"
	"github.com/noah-isme/cekresi/internal/input"
)

// ErrLookupsFailed is returned by track --fail-on-error when any lookup failed.
var ErrLookupsFailed = errors.New("one or more lookups failed")

type trackFlags struct {
	courier     string
	batchSize   int
	delay       time.Duration
	maxItems    int
	minLength   int
	format      string
	failOnError bool
}

func newTrackCmd(g *globalFlags) *cobra.Command {
	f := &trackFlags{}
	cmd := &cobra.Command{
		Use:   "track [file|-]",
		Short: "Look up a list of tracking numbers",
		Long: "Reads tracking numbers separated by newlines, commas or semicolons from a file\n" +
			"or stdin and looks them up in batches. Results are written to stdout as they\n" +
			"arrive and progress to stderr. Interrupting the command aborts after the batch\n" +
			"in flight.",
		Example: "  cekresi track resi.txt\n  pbpaste | cekresi track --courier jne --format text",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrack(cmd, g, f, args)
		},
	}
	cmd.Flags().StringVar(&f.courier, "courier", "auto", "courier code for every number, or auto to infer")
	cmd.Flags().IntVar(&f.batchSize, "batch-size", bulk.DefaultBatchSize, "concurrent lookups per batch")
	cmd.Flags().DurationVar(&f.delay, "delay", bulk.DefaultDelay, "pause between batches")
	cmd.Flags().IntVar(&f.maxItems, "max-items", bulk.DefaultMaxItems, "maximum tracking numbers per run")
	cmd.Flags().IntVar(&f.minLength, "min-length", input.DefaultMinLength, "shortest accepted tracking number")
	cmd.Flags().StringVar(&f.format, "format", "jsonl", "output format (jsonl|text)")
	cmd.Flags().BoolVar(&f.failOnError, "fail-on-error", false, "exit non-zero when any lookup fails")
	return cmd
}

func runTrack(cmd *cobra.Command, g *globalFlags, f *trackFlags, args []string) error {
	if f.format != "jsonl" && f.format != "text" {
		return fmt.Errorf("unsupported format %q", f.format)
	}
	text, err := readInput(cmd, args)
	if err != nil {
		return err
	}
	parsed, err := input.Parse(text, input.Rules{MinLength: f.minLength, MaxItems: f.maxItems})
	if err != nil {
		return err
	}
	stderr := cmd.ErrOrStderr()
	for _, id := range parsed.Rejected {
		fmt.Fprintf(stderr, "skipped %q: shorter than %d characters\n", id, f.minLength)
	}
	if len(parsed.Duplicates) > 0 {
		fmt.Fprintf(stderr, "ignored %d duplicate(s)\n", len(parsed.Duplicates))
	}

	logger := g.logger(stderr)
	provider, err := g.buildProvider(logger)
	if err != nil {
		return err
	}

	opts := []bulk.Option{
		bulk.WithBatchSize(f.batchSize),
		bulk.WithDelay(f.delay),
		bulk.WithLookupTimeout(g.timeout),
		bulk.WithMaxItems(f.maxItems),
		bulk.WithLogger(logger),
	}
	if hint := strings.TrimSpace(f.courier); hint != "" && !strings.EqualFold(hint, "auto") {
		code, err := courier.Parse(hint)
		if err != nil {
			return fmt.Errorf("courier %q: %w", hint, err)
		}
		opts = append(opts, bulk.WithCourier(code))
	}

	events, proc, err := bulk.Stream(cmd.Context(), provider, parsed.IDs, opts...)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	enc := json.NewEncoder(out)
	var summary bulk.Summary
	for ev := range events {
		switch ev.Kind {
		case bulk.EventProgress:
			fmt.Fprintf(stderr, "[%d/%d] looking up\n", ev.Current, ev.Total)
		case bulk.EventResult:
			if err := writeResult(out, enc, f.format, *ev.Result); err != nil {
				proc.Abort()
				proc.Wait()
				return fmt.Errorf("write result: %w", err)
			}
		case bulk.EventComplete:
			summary = *ev.Summary
		}
	}

	fmt.Fprintf(stderr, "done: %d succeeded, %d failed, %d skipped in %s\n",
		summary.Succeeded, summary.Failed, summary.Skipped(), summary.Duration.Round(time.Millisecond))
	if summary.Cancelled {
		return fmt.Errorf("aborted with %d tracking number(s) not looked up", summary.Skipped())
	}
	if f.failOnError && summary.Failed > 0 {
		return ErrLookupsFailed
	}
	return nil
}

func readInput(cmd *cobra.Command, args []string) (string, error) {
	var r io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		file, err := os.Open(args[0])
		if err != nil {
			return "", err
		}
		defer file.Close()
		r = file
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return string(raw), nil
}

func writeResult(w io.Writer, enc *json.Encoder, format string, res bulk.Result) error {
	if format == "jsonl" {
		return enc.Encode(res)
	}
	line := fmt.Sprintf("%-20s %-8s %-12s %s", res.TrackingNumber, res.Courier, res.Status, res.Date)
	if res.ErrorMessage != "" {
		line += "  " + res.ErrorMessage
	}
	_, err := fmt.Fprintln(w, line)
	return err
}
