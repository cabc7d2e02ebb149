package core

import (
	"fmt"
	"log"
)

var verbose bool

// SetVerbose enables the per-request lines written when LOG_LEVEL is DEBUG.
func SetVerbose(on bool) {
	verbose = on
}

func debugf(format string, args ...any) {
	if verbose {
		log.Output(2, fmt.Sprintf(format, args...))
	}
}
