// Command durabletaskvet reports orchestration code that breaks deterministic replay.
package main

import (
	"github.com/itixo/durabletask/analyzer"
	"golang.org/x/tools/go/analysis/singlechecker"
)

func main() {
	singlechecker.Main(analyzer.Analyzer)
}
