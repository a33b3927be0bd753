// Command boxdump lists the boxes of an MP4 style file by feeding it to a parsing
// session in chunks, optionally shuffled and throttled to simulate a network
// delivering pieces out of order.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/juju/ratelimit"
	"github.com/twinfer/kbin-multibuf/pkg/boxparse"
	"github.com/twinfer/kbin-multibuf/pkg/kbin"
	"github.com/urfave/cli/v2"
)

type dumpConfig struct {
	chunkSize int
	shuffle   bool
	seed      int64
	rate      int64
	filter    string
	lang      string
	catalog   string
	json      bool
	verbose   bool
}

func main() {
	app := &cli.App{
		Name:      "boxdump",
		Usage:     "list the boxes of an ISO base media file delivered in chunks",
		ArgsUsage: "FILE",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "chunk-size",
				Value: 4096,
				Usage: "size of the chunks fed to the parser",
			},
			&cli.BoolFlag{
				Name:  "shuffle",
				Usage: "deliver the chunks in random order",
			},
			&cli.Int64Flag{
				Name:  "seed",
				Usage: "random seed used by --shuffle (default: current time)",
			},
			&cli.Int64Flag{
				Name:  "rate",
				Usage: "throttle delivery to this many bytes per second (0 means unlimited)",
			},
			&cli.StringFlag{
				Name:  "filter",
				Usage: "only list boxes matching this predicate",
			},
			&cli.StringFlag{
				Name:  "lang",
				Value: "cel",
				Usage: "filter language: cel or expr",
			},
			&cli.StringFlag{
				Name:  "catalog",
				Usage: "YAML box catalog extending the built-in one",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "print the boxes as JSON",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log buffer activity to stderr",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "boxdump:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("exactly one FILE is needed")
	}
	data, err := os.ReadFile(c.Args().First())
	if err != nil {
		return err
	}
	cfg := dumpConfig{
		chunkSize: c.Int("chunk-size"),
		shuffle:   c.Bool("shuffle"),
		seed:      c.Int64("seed"),
		rate:      c.Int64("rate"),
		filter:    c.String("filter"),
		lang:      c.String("lang"),
		catalog:   c.String("catalog"),
		json:      c.Bool("json"),
		verbose:   c.Bool("verbose"),
	}
	if !c.IsSet("seed") {
		cfg.seed = time.Now().UnixNano()
	}
	return dump(c.Context, c.App.Writer, data, cfg)
}

// dump feeds data to a session chunk by chunk and writes the boxes found to w.
func dump(ctx context.Context, w io.Writer, data []byte, cfg dumpConfig) error {
	if cfg.chunkSize <= 0 {
		return fmt.Errorf("invalid chunk size %d", cfg.chunkSize)
	}

	level := slog.LevelWarn
	if cfg.verbose {
		level = slog.LevelDebug
	}
	opts := []kbin.Option{
		kbin.WithLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))),
		kbin.WithCapturePayloads(false),
	}
	if cfg.filter != "" {
		opts = append(opts, kbin.WithFilter(cfg.lang, cfg.filter))
	}
	if cfg.catalog != "" {
		opts = append(opts, kbin.WithCatalogPath(cfg.catalog))
	}
	session, err := kbin.NewSession(opts...)
	if err != nil {
		return err
	}

	starts := make([]int, 0, len(data)/cfg.chunkSize+1)
	for i := 0; i < len(data); i += cfg.chunkSize {
		starts = append(starts, i)
	}
	if cfg.shuffle {
		rng := rand.New(rand.NewSource(cfg.seed))
		rng.Shuffle(len(starts), func(i, j int) { starts[i], starts[j] = starts[j], starts[i] })
	}

	var bucket *ratelimit.Bucket
	if cfg.rate > 0 {
		bucket = ratelimit.NewBucketWithRate(float64(cfg.rate), max(cfg.rate, int64(cfg.chunkSize)))
	}

	for _, start := range starts {
		chunk := data[start:min(start+cfg.chunkSize, len(data))]
		if err := throttle(ctx, bucket, int64(len(chunk))); err != nil {
			return err
		}
		boxes, err := session.Append(ctx, int64(start), chunk)
		if err != nil {
			return err
		}
		if !cfg.json {
			printBoxes(w, boxes)
		}
	}

	if cfg.json {
		out, err := kbin.BoxesToJSON(session.Boxes())
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w, string(out)); err != nil {
			return err
		}
	}
	if !session.Done() && session.Next() != int64(len(data)) {
		return fmt.Errorf("stream ends inside a box: next box expected at %d, file has %d bytes", session.Next(), len(data))
	}
	return nil
}

// throttle takes n bytes from bucket, waiting until they are available or ctx is done.
func throttle(ctx context.Context, bucket *ratelimit.Bucket, n int64) error {
	if bucket == nil {
		return nil
	}
	d := bucket.Take(n)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func printBoxes(w io.Writer, boxes []boxparse.Box) {
	for _, b := range boxes {
		fmt.Fprintf(w, "%s%s @%d size=%d\n", strings.Repeat("  ", b.Depth), b.Type, b.Start, b.Size)
	}
}
