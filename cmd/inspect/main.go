// Command inspect lists the contents of a files-backend store
// directory without starting a server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"

	"mirrordb/pkg/nosql"
	"mirrordb/pkg/persist"
	"mirrordb/pkg/persist/files"
	"mirrordb/pkg/state"
)

func main() {
	var dataPath string
	flag.StringVar(&dataPath, "data", "./.mirrordb", "data directory to inspect")
	flag.Parse()

	driver, err := files.New(state.StorePath(dataPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	tables, err := driver.ListTables(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list tables: %v\n", err)
		os.Exit(1)
	}
	if len(tables) == 0 {
		fmt.Println("no persisted tables")
		return
	}

	for _, table := range tables {
		fmt.Printf("table %s\n", table)
		fls, err := driver.ListTableFiles(ctx, table)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  list files: %v\n", err)
			continue
		}
		for _, f := range fls {
			data, err := driver.LoadTableFile(ctx, table, f)
			if err != nil {
				fmt.Fprintf(os.Stderr, "  %s: %v\n", f.Name(), err)
				continue
			}
			if f.Attributes {
				attrs := persist.UnmarshalAttributes(data, nosql.Now())
				fmt.Printf("  attributes: persist=%v maxPartitions=%d maxRowsPerPartition=%d\n",
					attrs.Persist, attrs.MaxPartitionsAmount, attrs.MaxRowsPerPartitionAmount)
				continue
			}
			rows, err := persist.UnmarshalRows(data)
			if err != nil {
				fmt.Fprintf(os.Stderr, "  partition %s: %v\n", f.PartitionKey, err)
				continue
			}
			fmt.Printf("  partition %s: %d rows, %s\n",
				f.PartitionKey, len(rows), humanize.Bytes(uint64(len(data))))
		}
	}
}
