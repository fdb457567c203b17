package config

import (
	"bufio"
	"bytes"
	"encoding"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// decodeLegacy reads the plain `key = value` files written for the earlier
// Python tool, where strings are unquoted. It accepts `key: value` and
// `key value` too, skips comments and section headers, and ignores keys
// Config does not know.
func decodeLegacy(data []byte, cfg *Config) error {
	fields := fieldsByTag(cfg)

	sc := bufio.NewScanner(bytes.NewReader(data))
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' || line[0] == ';' || line[0] == '[' {
			continue
		}
		key, value := splitLegacy(line)
		f, ok := fields[key]
		if !ok {
			continue
		}
		if err := setField(f, value); err != nil {
			return fmt.Errorf("line %d (%s): %w", n, key, err)
		}
	}
	return sc.Err()
}

func splitLegacy(line string) (string, string) {
	i := strings.IndexAny(line, ":= \t")
	if i < 0 {
		return line, "true"
	}
	key := line[:i]
	value := strings.TrimSpace(line[i:])
	if value != "" && (value[0] == '=' || value[0] == ':') {
		value = strings.TrimSpace(value[1:])
	}
	if j := strings.Index(value, " #"); j >= 0 {
		value = strings.TrimSpace(value[:j])
	}
	if j := strings.Index(value, " ;"); j >= 0 {
		value = strings.TrimSpace(value[:j])
	}
	return key, unquote(value)
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

func fieldsByTag(cfg *Config) map[string]reflect.Value {
	v := reflect.ValueOf(cfg).Elem()
	t := v.Type()
	out := make(map[string]reflect.Value, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		if tag := t.Field(i).Tag.Get("toml"); tag != "" {
			out[tag] = v.Field(i)
		}
	}
	return out
}

func setField(f reflect.Value, value string) error {
	if u, ok := f.Addr().Interface().(encoding.TextUnmarshaler); ok {
		return u.UnmarshalText([]byte(value))
	}
	switch f.Kind() {
	case reflect.String:
		f.SetString(value)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		f.SetInt(n)
	case reflect.Slice:
		var items []string
		for _, item := range strings.Split(strings.Trim(value, "[]"), ",") {
			if item = unquote(strings.TrimSpace(item)); item != "" {
				items = append(items, item)
			}
		}
		f.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported field type %s", f.Type())
	}
	return nil
}
