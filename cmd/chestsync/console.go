package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/asdine/storm/v3"
	"github.com/asdine/storm/v3/q"
	"github.com/mdouchement/chestsync/internal/database"
	"github.com/mdouchement/chestsync/internal/model"
	"github.com/mdouchement/chestsync/pkg/stormsql"
	"github.com/muesli/coral"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// chestsync console GPR "SELECT count(*) FROM history WHERE Stale = true AND RecordedAt > '2024-05-01 20:52:55'"

var consoleCmd = &coral.Command{
	Use:   "console STRUCTURE QUERY",
	Short: "SQL console over the records of a structure (chests, history, legacy, tokens)",
	Args:  coral.ExactArgs(2),
	RunE: func(_ *coral.Command, args []string) error {
		konf, err := config()
		if err != nil {
			return err
		}

		//
		//
		sc, err := stormsql.ParseSelect(args[1])
		if err != nil {
			return err
		}

		//
		//
		db, err := storm.Open(
			dbnameWithPath(konf.String("database_path")),
			database.StormCodec,
			storm.BoltOptions(0600, &bolt.Options{ReadOnly: true, Timeout: 5 * time.Second}),
		)
		if err != nil {
			return errors.Wrap(err, "could not open database")
		}
		defer db.Close()

		//
		// Prepare request
		//

		var node storm.Node
		matcher := sc.Matcher
		switch sc.Tablename {
		case "chests", "history":
			node = db.From(database.TenantsBucket, args[0])
		case "legacy":
			node = db.From(database.LegacyBucket, args[0])
		case "tokens":
			node = db
			matcher = q.And(q.Eq("TenantID", args[0]), matcher)
		default:
			return errors.Errorf("unknown tablename: %s", sc.Tablename)
		}

		query := node.Select(matcher)
		if sc.Skip > 0 {
			query.Skip(sc.Skip)
		}
		if sc.Limit > 0 {
			query.Limit(sc.Limit)
		}
		if len(sc.OrderBy) > 0 {
			query.OrderBy(sc.OrderBy...)
			if sc.OrderByReversed {
				query.Reverse()
			}
		}

		// Execute

		switch sc.Tablename {
		case "chests":
			return execute[model.Snapshot](sc, query)
		case "history":
			return execute[model.HistoryEntry](sc, query)
		case "legacy":
			return execute[model.LegacyContainer](sc, query)
		default:
			return execute[model.IngestToken](sc, query)
		}
	},
}

func execute[T any](sc *stormsql.SelectClause, query storm.Query) error {
	if sc.Count {
		n, err := query.Count(new(T))
		if err != nil && err != storm.ErrNotFound {
			return errors.Wrap(err, "could not perform query")
		}

		fmt.Println("Count:", n)
		return nil
	}

	records := make([]*T, 0)
	err := query.Find(&records)
	if err != nil && err != storm.ErrNotFound {
		return errors.Wrap(err, "could not perform query")
	}

	rows, err := stormsql.Project(sc, records)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rows)
}
