package model

import (
	"strconv"
	"strings"
)

// Field is one named column of a recipient row.
type Field struct {
	Key   string
	Value string
}

// Recipient is an ordered set of named fields. Keys may contain spaces
// (e.g. "Job Role") and keep the order of the source columns.
type Recipient struct {
	Fields []Field
}

func NewRecipient(fields ...Field) *Recipient {
	return &Recipient{Fields: fields}
}

func (r *Recipient) Get(key string) string {
	for _, f := range r.Fields {
		if f.Key == key {
			return f.Value
		}
	}
	return ""
}

// Set overwrites an existing field or appends a new one.
func (r *Recipient) Set(key, value string) {
	for i := range r.Fields {
		if r.Fields[i].Key == key {
			r.Fields[i].Value = value
			return
		}
	}
	r.Fields = append(r.Fields, Field{Key: key, Value: value})
}

// Map returns the fields as a map for template bindings.
func (r *Recipient) Map() map[string]any {
	m := make(map[string]any, len(r.Fields))
	for _, f := range r.Fields {
		m[f.Key] = f.Value
	}
	return m
}

// Truthy reports whether a field holds an affirmative flag value.
// Spreadsheet exports use TRUE/FALSE, 1/0 or yes/no.
func (r *Recipient) Truthy(key string) bool {
	v := strings.TrimSpace(r.Get(key))
	if v == "" {
		return false
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	switch strings.ToLower(v) {
	case "yes", "y", "x":
		return true
	}
	return false
}

// RecipientFields names the columns that carry the well-known attributes.
type RecipientFields struct {
	Name  string
	Email string
	Send  string
	Links []string
}

func DefaultRecipientFields() RecipientFields {
	return RecipientFields{
		Name:  "Name",
		Email: "Email",
		Send:  "shouldSend",
		Links: []string{"hiringPlatform"},
	}
}
