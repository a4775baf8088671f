// Command hashexec runs hash joins and hash aggregations over CSV files with the spilling hash engine.
//
//	hashexec join --probe orders.csv --build customers.csv --probe-keys 1 --build-keys 0 --kind left
//	hashexec agg --input orders.csv --group-by 1 --agg count:* --agg sum:2
//
// The first line of every input file is a header of name:type cells, where type is int or string (the default).
// A cell reading NULL is the NULL value. Results are written as CSV to stdout.
package main

import (
	"os"
)

func main() {
	os.Exit(newCLI(os.Stdout, os.Stderr).execute(os.Args[1:]))
}
