// Command scopevet reports scope lookups made on a detached context.
package main

import (
	"golang.org/x/tools/go/analysis/singlechecker"

	"github.com/roach88/ambient/internal/scopevet"
)

func main() {
	singlechecker.Main(scopevet.Analyzer)
}
