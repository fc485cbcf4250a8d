// phonembed trains phoneme embedding networks with contrastive losses.
//
// Usage:
//
//	phonembed train -c configs/default.yaml          # k-fold or holdout training
//	phonembed evaluate -c configs/default.yaml       # embed the dataset with a checkpoint
//	phonembed visualize --job-name 20240501_120000   # plot embeddings and fold accuracy
//	phonembed version
//
// Every mode works inside runs/<run id>, where the run id is the job name or
// a timestamp.
package main

import (
	"fmt"
	"os"

	"github.com/tsawler/go-supcon/app/phonembed/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
