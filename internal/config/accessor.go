package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"reflect"
	"strconv"
	"strings"
)

// Setting is one leaf config value addressed by its dotted JSON path.
type Setting struct {
	Path  string
	Value any
}

// Paths returns every settable path in the order the sections are declared,
// e.g. "gateway.baseURL" before "features.bind". Lists such as "groups" are
// single leaves.
func Paths() []string {
	return leafPaths(reflect.TypeOf(Config{}), "")
}

func leafPaths(t reflect.Type, prefix string) []string {
	var out []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := jsonName(f)
		if name == "" {
			continue
		}
		path := joinPath(prefix, name)
		if f.Type.Kind() == reflect.Struct {
			out = append(out, leafPaths(f.Type, path)...)
			continue
		}
		out = append(out, path)
	}
	return out
}

// Settings lists every leaf value in declaration order with secrets masked.
func Settings(cfg *Config) []Setting {
	masked := Sanitize(cfg)
	paths := Paths()
	out := make([]Setting, 0, len(paths))
	for _, p := range paths {
		v, err := GetByPath(masked, p)
		if err != nil {
			continue
		}
		out = append(out, Setting{Path: p, Value: v})
	}
	return out
}

// GetByPath returns the value at a dotted path. A section path such as
// "push" returns the whole section.
func GetByPath(cfg *Config, path string) (any, error) {
	v, err := lookup(reflect.ValueOf(cfg).Elem(), path)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

// SetByPath parses value for the field at path and stores it. Strings are
// converted by the field's kind, so numeric QQ IDs stay strings in string
// fields and "groups" accepts a comma-separated list.
func SetByPath(cfg *Config, path string, value any) error {
	field, err := lookup(reflect.ValueOf(cfg).Elem(), path)
	if err != nil {
		return err
	}
	if field.Kind() == reflect.Struct {
		return fmt.Errorf("%s is a section; set one of its fields", path)
	}

	s, isString := value.(string)
	if !isString {
		data, err := json.Marshal(value)
		if err != nil {
			return err
		}
		return decodeInto(field, data, path)
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("%s: expected true or false, got %q", path, s)
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: expected an integer, got %q", path, s)
		}
		field.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("%s: expected a number, got %q", path, s)
		}
		field.SetFloat(f)
	case reflect.Slice:
		field.Set(reflect.ValueOf(SplitGroups(s)).Convert(field.Type()))
	default:
		return fmt.Errorf("%s: unsupported field type %s", path, field.Type())
	}
	return nil
}

func decodeInto(field reflect.Value, data []byte, path string) error {
	ptr := reflect.New(field.Type())
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	field.Set(ptr.Elem())
	return nil
}

func lookup(v reflect.Value, path string) (reflect.Value, error) {
	if path == "" {
		return reflect.Value{}, fmt.Errorf("empty config path")
	}
	for _, key := range strings.Split(path, ".") {
		if v.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("unknown config path %q", path)
		}
		next, ok := fieldByJSONName(v, key)
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown config path %q", path)
		}
		v = next
	}
	return v, nil
}

func fieldByJSONName(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if jsonName(t.Field(i)) == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func jsonName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "-" || !f.IsExported() {
		return ""
	}
	if name, _, _ := strings.Cut(tag, ","); name != "" {
		return name
	}
	return f.Name
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// Sanitize returns a copy of the config with the gateway token and the
// PostgreSQL password masked.
func Sanitize(cfg *Config) *Config {
	c := *cfg
	c.Groups = append(GroupList(nil), cfg.Groups...)
	if c.Gateway.AccessToken != "" {
		c.Gateway.AccessToken = maskSecret(c.Gateway.AccessToken)
	}
	if c.Store.Driver == "postgres" && c.Store.DSN != "" {
		c.Store.DSN = maskDSN(c.Store.DSN)
	}
	return &c
}

// maskDSN hides the password of a URL-style connection string.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// maskSecret keeps the last four characters of long secrets so operators
// can tell tokens apart.
func maskSecret(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return "***" + s[len(s)-4:]
}
