package usage

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

// WriteCSV writes rows as Week,Start,End,<keyName>,UsageHours.
func WriteCSV(w io.Writer, keyName string, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Week", "Start", "End", keyName, "UsageHours"}); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{
			strconv.Itoa(r.Week),
			r.Start.Format(time.RFC3339),
			r.End.Format(time.RFC3339),
			r.Key,
			strconv.FormatFloat(r.Hours, 'f', 2, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WritePivotCSV writes the instrument x booking type table.
func WritePivotCSV(w io.Writer, p Pivot) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"Instrument"}, p.Types...)); err != nil {
		return err
	}
	for _, in := range p.Instruments {
		rec := []string{in}
		for _, t := range p.Types {
			rec = append(rec, strconv.FormatFloat(p.Get(in, t), 'f', 2, 64))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
