package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"mit.edu/dsg/hashexec/common"
	"mit.edu/dsg/hashexec/execution"
	"mit.edu/dsg/hashexec/planner"
)

// table is an input file loaded into memory.
type table struct {
	names []string
	node  *planner.ValuesNode
}

func (t *table) checkColumns(what string, cols []int) error {
	for _, c := range cols {
		if c < 0 || c >= len(t.names) {
			return fmt.Errorf("%s column %d out of range for %d columns", what, c, len(t.names))
		}
	}
	return nil
}

func parseHeader(cells []string) ([]string, []common.Type, error) {
	names := make([]string, len(cells))
	types := make([]common.Type, len(cells))
	for i, cell := range cells {
		name, typ, _ := strings.Cut(strings.TrimSpace(cell), ":")
		names[i] = name
		switch strings.ToLower(typ) {
		case "int":
			types[i] = common.IntType
		case "string", "":
			types[i] = common.StringType
		default:
			return nil, nil, fmt.Errorf("column %q: unknown type %q", name, typ)
		}
	}
	return names, types, nil
}

func readTable(path string) (*table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return loadTable(f, path)
}

func loadTable(r io.Reader, name string) (*table, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%s: reading header: %w", name, err)
	}
	names, types, err := parseHeader(header)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	cr.FieldsPerRecord = len(header)

	var rows [][]common.Value
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		row := make([]common.Value, len(record))
		for i, cell := range record {
			if row[i], err = common.ParseValue(types[i], cell); err != nil {
				line, _ := cr.FieldPos(i)
				return nil, fmt.Errorf("%s:%d: column %q: %w", name, line, names[i], err)
			}
		}
		rows = append(rows, row)
	}
	return &table{names: names, node: planner.NewValuesNode(types, rows)}, nil
}

// writeCSV writes header and every row of e to w and returns the number of rows written.
func writeCSV(w io.Writer, header []string, e execution.Executor) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return 0, err
	}
	n := 0
	record := make([]string, len(header))
	for e.Next() {
		t := e.Current()
		for i := range record {
			record[i] = t.GetValue(i).String()
		}
		if err := cw.Write(record); err != nil {
			return n, err
		}
		n++
	}
	if err := e.Error(); err != nil {
		return n, err
	}
	cw.Flush()
	return n, cw.Error()
}

func limitNode(root execution.Executor, limit, offset int) *planner.LimitNode {
	return planner.NewLimitNode(root.PlanNode(), limit, offset)
}
