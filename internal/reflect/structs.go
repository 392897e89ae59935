package reflect

import (
	"fmt"
	"reflect"
	"strings"
)

type Field struct {
	Index int
	Name  string
	Type  reflect.Type
	Named string
}

// StructFields returns the exported fields of t carrying tagKey, in
// declaration order. t may be a struct or a pointer to one. The tag value is
// an optional name: `key:""` or `key:"primary"`.
func StructFields(t reflect.Type, tagKey string) ([]Field, error) {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%s is not a struct", t)
	}

	var fields []Field
	for i := range t.NumField() {
		sf := t.Field(i)
		tag, ok := sf.Tag.Lookup(tagKey)
		if !ok {
			continue
		}
		if !sf.IsExported() {
			return nil, fmt.Errorf("field %s.%s is tagged but unexported", t.Name(), sf.Name)
		}

		name, _, _ := strings.Cut(tag, ",")
		fields = append(fields, Field{
			Index: i,
			Name:  sf.Name,
			Type:  sf.Type,
			Named: strings.TrimSpace(name),
		})
	}
	return fields, nil
}
