package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/pflag"
)

func main() {
	dbPath := pflag.String("db", "./data/badger", "Path to badger DB")
	prefix := pflag.String("prefix", "msg:", "Prefix to scan (user:, thread:, msg:, react: ...)")
	limit := pflag.Int("limit", 200, "Maximum number of rows")
	pflag.Parse()

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Type", "Size", "Value"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	rows := 0
	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(*prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes) && rows < *limit; it.Next() {
			item := it.Item()
			rawKey := string(item.Key())
			recordType, _, _ := strings.Cut(rawKey, ":")

			err := item.Value(func(v []byte) error {
				table.Append([]string{rawKey, recordType, fmt.Sprintf("%d", len(v)), describe(v)})
				return nil
			})
			if err != nil {
				return err
			}
			rows++
		}
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	table.Render()
	fmt.Printf("%d row(s)\n", rows)
}

// describe renders a cbor record as a generic map. Index entries hold raw
// keys or ids and are printed as text.
func describe(v []byte) string {
	if len(v) == 0 {
		return ""
	}
	var decoded any
	if err := cbor.Unmarshal(v, &decoded); err != nil {
		return string(v)
	}
	text := fmt.Sprintf("%v", decoded)
	if len(text) > 120 {
		text = text[:117] + "..."
	}
	return text
}

func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)
	return badger.Open(opts)
}
