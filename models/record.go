package models

import (
	"bytes"
	"encoding/json"

	"github.com/mailru/easyjson/jlexer"
)

// Field is a single named cell of a record
type Field struct {
	Name  string
	Value any
}

// Fields keeps a record's cells in the order the API returned them.
// Values are string, json.Number, bool, []any, map[string]any or nil.
type Fields []Field

// Get returns the value stored under name
func (f Fields) Get(name string) (any, bool) {
	for _, field := range f {
		if field.Name == name {
			return field.Value, true
		}
	}
	return nil, false
}

// Names returns the field names in order
func (f Fields) Names() []string {
	names := make([]string, len(f))
	for i, field := range f {
		names[i] = field.Name
	}
	return names
}

// UnmarshalJSON decodes a JSON object without losing its key order
func (f *Fields) UnmarshalJSON(data []byte) error {
	in := jlexer.Lexer{Data: data}
	f.UnmarshalEasyJSON(&in)
	return in.Error()
}

// UnmarshalEasyJSON implements easyjson.Unmarshaler
func (f *Fields) UnmarshalEasyJSON(in *jlexer.Lexer) {
	isTopLevel := in.IsStart()
	if in.IsNull() {
		if isTopLevel {
			in.Consumed()
		}
		in.Skip()
		*f = nil
		return
	}

	fields := Fields{}
	in.Delim('{')
	for !in.IsDelim('}') {
		name := in.String()
		in.WantColon()
		raw := in.Raw()
		if in.Ok() {
			value, err := decodeValue(raw)
			if err != nil {
				in.AddError(err)
			}
			fields = append(fields, Field{Name: name, Value: value})
		}
		in.WantComma()
	}
	in.Delim('}')
	if isTopLevel {
		in.Consumed()
	}
	*f = fields
}

// decodeValue keeps numbers as json.Number so integers survive untouched
func decodeValue(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// Record is one row of an Airtable table
type Record struct {
	ID          string
	CreatedTime string
	Fields      Fields
}

// UnmarshalJSON decodes a record as returned by the list records endpoint
func (r *Record) UnmarshalJSON(data []byte) error {
	in := jlexer.Lexer{Data: data}
	r.UnmarshalEasyJSON(&in)
	return in.Error()
}

// UnmarshalEasyJSON implements easyjson.Unmarshaler
func (r *Record) UnmarshalEasyJSON(in *jlexer.Lexer) {
	isTopLevel := in.IsStart()
	if in.IsNull() {
		if isTopLevel {
			in.Consumed()
		}
		in.Skip()
		return
	}
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.String()
		in.WantColon()
		if in.IsNull() {
			in.Skip()
			in.WantComma()
			continue
		}
		switch key {
		case "id":
			r.ID = in.String()
		case "createdTime":
			r.CreatedTime = in.String()
		case "fields":
			r.Fields.UnmarshalEasyJSON(in)
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
	if isTopLevel {
		in.Consumed()
	}
}
