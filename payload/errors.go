package payload

import "fmt"

type MalformedRowError struct {
	Row  int
	Line string
	Want int
	Got  int
}

func (e *MalformedRowError) Error() string {
	return fmt.Sprintf("malformed row %d: expected %d fields, got %d: %q", e.Row, e.Want, e.Got, e.Line)
}

type UnparseableValueError struct {
	Row    int
	Column string
	Value  string
	Err    error
}

func (e *UnparseableValueError) Error() string {
	return fmt.Sprintf("row %d, column %q: cannot parse %q: %v", e.Row, e.Column, e.Value, e.Err)
}

func (e *UnparseableValueError) Unwrap() error {
	return e.Err
}

// SchemaError reports a payload whose columns do not match the declared schema.
type SchemaError struct {
	Column string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema mismatch on column %q: %s", e.Column, e.Reason)
}
