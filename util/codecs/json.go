// Copyright (C) 2019-2025 Algorand, Inc.
// This file is part of go-algorand
//
// go-algorand is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// go-algorand is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with go-algorand.  If not, see <https://www.gnu.org/licenses/>.

package codecs

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
)

// NewFormattedJSONEncoder returns a json encoder configured for
// pretty-printed output (human-readable)
func NewFormattedJSONEncoder(w io.Writer) *json.Encoder {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "\t")
	enc.SetEscapeHTML(false)
	return enc
}

// LoadObjectFromFile implements the common pattern for loading an instance
// of an object from a json file.
func LoadObjectFromFile(filename string, object interface{}) (err error) {
	f, err := os.Open(filename)
	if err != nil {
		return
	}
	defer f.Close()
	dec := json.NewDecoder(f)
	err = dec.Decode(object)
	return
}

// SaveObjectToFile implements the common pattern for saving an object to a file as json
func SaveObjectToFile(filename string, object interface{}, prettyFormat bool) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	var enc *json.Encoder
	if prettyFormat {
		enc = NewFormattedJSONEncoder(f)
	} else {
		enc = json.NewEncoder(f)
	}
	return enc.Encode(object)
}

// NonDefaultValues returns the top-level fields of object whose value differs
// from the same field of defaultObject, keyed by their json name.
// Fields named in include are always kept. Both arguments must be structs of the same type.
func NonDefaultValues(object, defaultObject interface{}, include []string) (map[string]interface{}, error) {
	val := reflect.Indirect(reflect.ValueOf(object))
	def := reflect.Indirect(reflect.ValueOf(defaultObject))
	if val.Kind() != reflect.Struct || val.Type() != def.Type() {
		return nil, fmt.Errorf("NonDefaultValues: %T and %T are not the same struct type", object, defaultObject)
	}

	values := make(map[string]interface{})
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if !field.IsExported() {
			continue
		}
		name := jsonName(field)
		if name == "-" {
			continue
		}
		fv := val.Field(i).Interface()
		if inStringArray(field.Name, include) || !reflect.DeepEqual(fv, def.Field(i).Interface()) {
			values[name] = fv
		}
	}
	return values, nil
}

// SaveNonDefaultValuesToFile saves an object to a file as json, but only fields that are not
// currently set to be the default value.
// Optionally, you can specify an array of field names to always include.
func SaveNonDefaultValuesToFile(filename string, object, defaultObject interface{}, include []string, prettyFormat bool) error {
	values, err := NonDefaultValues(object, defaultObject, include)
	if err != nil {
		return err
	}
	return SaveObjectToFile(filename, values, prettyFormat)
}

func jsonName(field reflect.StructField) string {
	tag := field.Tag.Get("json")
	if tag == "" {
		return field.Name
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return field.Name
	}
	return name
}

func inStringArray(item string, set []string) bool {
	for _, s := range set {
		if item == s {
			return true
		}
	}
	return false
}
