package stormsql

import (
	"github.com/oleiade/reflections"
	"github.com/pkg/errors"
)

// A Row is a record restricted to the selected fields.
type Row map[string]any

// Project restricts each record to the selected fields.
// records must be a slice of structures or pointers to structures.
// All fields are kept when no field is selected.
func Project[T any](sc *SelectClause, records []T) ([]any, error) {
	rows := make([]any, 0, len(records))
	for _, record := range records {
		if len(sc.SelectedFields) == 0 {
			rows = append(rows, record)
			continue
		}

		row := Row{}
		for _, name := range sc.SelectedFields {
			v, err := reflections.GetField(record, name)
			if err != nil {
				return nil, errors.Wrapf(err, "could not select %s", name)
			}
			row[name] = v
		}
		rows = append(rows, row)
	}

	return rows, nil
}
