// Command snapshot-check validates serialized document snapshot files: each
// file must decode, pass structural validation, and survive a round-trip
// through the in-memory model without drift.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"tilecore/internal/core"
	"tilecore/pkg/domain"
)

var exitFunc = os.Exit

func main() {
	exitFunc(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("snapshot-check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	quiet := fs.Bool("q", false, "suppress per-file output")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	files := fs.Args()
	if len(files) == 0 {
		fmt.Fprintln(stderr, "usage: snapshot-check [-q] <snapshot.json> ...")
		return 2
	}
	failed := 0
	for _, path := range files {
		if err := checkFile(path); err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", path, err)
			failed++
			continue
		}
		if !*quiet {
			fmt.Fprintf(stdout, "%s: ok\n", path)
		}
	}
	if failed > 0 {
		return 1
	}
	return 0
}

func checkFile(path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var snapshot domain.DocumentSnapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if err := snapshot.Validate(); err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	return roundTrip(snapshot)
}

// roundTrip rebuilds the document through the live model and compares the
// re-serialized graph against the input.
func roundTrip(snapshot domain.DocumentSnapshot) error {
	manager := core.NewSharedModelManager(nil)
	if err := manager.SetDocument(snapshot); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	out := manager.DocumentSnapshot()
	if len(out.SharedModels) != len(snapshot.SharedModels) {
		return fmt.Errorf("round-trip: %d shared models in, %d out", len(snapshot.SharedModels), len(out.SharedModels))
	}
	for i, entry := range snapshot.SharedModels {
		in := entry.SharedModel.DataSet
		got := out.SharedModels[i].SharedModel.DataSet
		if in.ID != got.ID {
			return fmt.Errorf("round-trip: dataset id %q became %q", in.ID, got.ID)
		}
		if len(in.Attributes) != len(got.Attributes) || len(in.Cases) != len(got.Cases) {
			return fmt.Errorf("round-trip: dataset %s shape drifted", in.ID)
		}
	}
	return nil
}
