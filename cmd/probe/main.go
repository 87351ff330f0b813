// Command probe samples a song_data or log_data tree and prints what a load
// would see: file and record counts, rejected files and per-field uniqueness.
//
// Nothing is written to the warehouse. Use it to check a new input drop
// before running cmd/etl against it.
//
// Output modes
//
//   - Default mode: prints a text report to stdout.
//   - JSON mode (-json): prints the full result as JSON instead.
//
// The command exits 0 even when files are rejected; the report lists them.
// It exits 1 when the tree cannot be read at all and 2 on usage errors.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"

	"songplays/internal/probe"
)

func main() {
	var (
		// flagTree selects the record shape: song_data or log_data.
		flagTree = flag.String("tree", "", "Tree to probe: song_data|log_data")

		// flagRoot defaults to data/<tree>, matching the etl defaults.
		flagRoot = flag.String("root", "", "Root directory of the tree (default data/<tree>)")

		flagPattern = flag.String("pattern", "", "Doublestar glob under root (default **/*.json)")

		// flagMaxFiles bounds the probe on large trees. Files are taken in
		// the same sorted order the loader uses.
		flagMaxFiles = flag.Int("max-files", 0, "Read at most this many files (0 = all)")

		flagJSON    = flag.Bool("json", false, "Print the result as JSON instead of a report")
		flagTimeout = flag.Duration("timeout", 5*time.Minute, "Abort the probe after this long")
	)
	flag.Parse()

	if *flagTree != probe.TreeSongs && *flagTree != probe.TreeEvents {
		fmt.Fprintln(os.Stderr, "missing or invalid -tree (want song_data or log_data)")
		flag.Usage()
		os.Exit(2)
	}
	root := *flagRoot
	if root == "" {
		root = "data/" + *flagTree
	}

	ctx, cancel := context.WithTimeout(context.Background(), *flagTimeout)
	defer cancel()

	res, err := probe.Probe(ctx, probe.Options{
		Tree:     *flagTree,
		Root:     root,
		Pattern:  *flagPattern,
		MaxFiles: *flagMaxFiles,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "probe: %v\n", err)
		cancel()
		os.Exit(1)
	}

	if *flagJSON {
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "probe: encode: %v\n", err)
			cancel()
			os.Exit(1)
		}
		fmt.Fprintln(os.Stdout, string(out))
		return
	}
	fmt.Fprintln(os.Stdout, probe.FormatReport(res))
}
