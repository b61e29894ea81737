package output

import (
	"encoding/json"
	"io"

	"gopkg.in/yaml.v3"
)

// jsonWriter buffers records and emits them on Close. A single record is
// written bare, several as an array.
type jsonWriter struct {
	w       io.Writer
	pretty  bool
	indent  string
	records []Record
}

func (j *jsonWriter) Write(r Record) error {
	j.records = append(j.records, r)
	return nil
}

func (j *jsonWriter) Close() error {
	if len(j.records) == 0 {
		return nil
	}
	var v any = j.records
	if len(j.records) == 1 {
		v = j.records[0]
	}
	enc := json.NewEncoder(j.w)
	if j.pretty {
		enc.SetIndent("", j.indent)
	}
	return enc.Encode(v)
}

// jsonlWriter streams one record per line.
type jsonlWriter struct {
	w io.Writer
}

func (j *jsonlWriter) Write(r Record) error {
	return json.NewEncoder(j.w).Encode(r)
}

func (j *jsonlWriter) Close() error { return nil }

type yamlWriter struct {
	w       io.Writer
	records []Record
}

func (y *yamlWriter) Write(r Record) error {
	y.records = append(y.records, r)
	return nil
}

func (y *yamlWriter) Close() error {
	if len(y.records) == 0 {
		return nil
	}
	enc := yaml.NewEncoder(y.w)
	enc.SetIndent(2)

	var err error
	if len(y.records) == 1 {
		err = enc.Encode(y.records[0])
	} else {
		err = enc.Encode(y.records)
	}
	if err != nil {
		return err
	}
	return enc.Close()
}
