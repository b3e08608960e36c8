// Command fincache keeps a local cache of standardized financial statements
// and answers metric, comparison, search and completeness queries from it.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
