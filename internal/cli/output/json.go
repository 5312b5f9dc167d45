package output

import (
	"encoding/json"
	"io"
	"reflect"
)

// JSONFormatter formats data as JSON. By default the value is written
// indented. With Lines set, a slice is written as one compact JSON value
// per element and line, which keeps large scans streamable through jq.
type JSONFormatter struct {
	Lines bool
}

// Format writes data as JSON followed by a newline.
func (f *JSONFormatter) Format(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	if !f.Lines {
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}

	v := reflect.ValueOf(data)
	for v.Kind() == reflect.Pointer && !v.IsNil() {
		v = v.Elem()
	}
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return enc.Encode(data)
	}
	for i := 0; i < v.Len(); i++ {
		if err := enc.Encode(v.Index(i).Interface()); err != nil {
			return err
		}
	}
	return nil
}
