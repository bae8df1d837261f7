// Command strata inspects and edits versioned array repositories.
//
// The repository is selected by a YAML config file (--config or
// STRATA_CONFIG) and STRATA_* environment overrides:
//
//	strata init
//	strata branches
//	strata log main
//	strata nodes --branch main
//	strata chunk get /temperature 0,0,0 --range 0:16
//	strata chunk set-virtual /temperature 0,0,0 s3://bucket/data.nc --offset 4096 --length 1024
package main

import (
	"context"
	"os"
)

func main() {
	a := &app{}
	if err := a.execute(context.Background(), newRootCmd(a)); err != nil {
		os.Exit(1)
	}
}
