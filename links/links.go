// Package links implements the link collector: a pure function that walks a
// decoded ATProto record and returns every URI-shaped value it contains,
// tagged with the structural path it was found at.
//
// This is deliberately independent of any particular record schema (posts,
// likes, profiles, ...) — new record types show up on the firehose
// constantly, and the convention this package relies on (a string value
// under a field literally named "uri") is the one ATProto lexicons already
// use for strong/weak references, so no per-collection cases are needed.
package links

import (
	"bytes"
	"encoding/json"
)

// CollectedLink is a single (path, target) pair found inside a record.
type CollectedLink struct {
	Path   string
	Target string
}

// Collect walks record and returns every link found, in the order they
// appear in the source document. Duplicates are preserved: a record with
// the same (path, target) twice yields two entries. Returns nil (not an
// error) for records with no link-shaped values, or for a record that
// fails to parse as JSON — the collector is a best-effort pure function,
// never a source of hard failure for the pipeline that calls it.
func Collect(record json.RawMessage) []CollectedLink {
	if len(record) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(record))
	dec.UseNumber()
	root, err := decodeValue(dec)
	if err != nil {
		return nil
	}

	var out []CollectedLink
	walk("", root, &out)
	return out
}

// jVal is a JSON value decoded with object key order preserved, so Collect
// is stable across calls with equal input regardless of Go's randomized
// map iteration order.
type jVal any

type jObject struct {
	keys []string
	vals []jVal
}

type jArray []jVal

func decodeValue(dec *json.Decoder) (jVal, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	return decodeToken(dec, tok)
}

func decodeToken(dec *json.Decoder, tok json.Token) (jVal, error) {
	delim, ok := tok.(json.Delim)
	if !ok {
		// string, json.Number, bool, or nil
		return tok, nil
	}

	switch delim {
	case '{':
		obj := &jObject{}
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, _ := keyTok.(string)

			val, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}

			obj.keys = append(obj.keys, key)
			obj.vals = append(obj.vals, val)
		}
		if _, err := dec.Token(); err != nil { // consume '}'
			return nil, err
		}
		return obj, nil

	case '[':
		var arr jArray
		for dec.More() {
			val, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			arr = append(arr, val)
		}
		if _, err := dec.Token(); err != nil { // consume ']'
			return nil, err
		}
		return arr, nil
	}

	return nil, nil
}

func walk(path string, v jVal, out *[]CollectedLink) {
	switch val := v.(type) {
	case *jObject:
		for i, key := range val.keys {
			child := val.vals[i]
			childPath := path + "." + key
			if key == "uri" {
				if s, ok := child.(string); ok {
					*out = append(*out, CollectedLink{Path: childPath, Target: s})
					continue
				}
			}
			walk(childPath, child, out)
		}
	case jArray:
		for _, elem := range val {
			walk(path+"[]", elem, out)
		}
	}
}
