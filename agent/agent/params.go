package agent

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Params are the command arguments sent by the server. JSON numbers
// arrive as float64.
type Params map[string]interface{}

// Str returns the string at key, or def when missing or empty.
func (p Params) Str(key, def string) string {
	switch v := p[key].(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	}
	return def
}

// Int returns the integer at key, or def.
func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

// Bool returns the boolean at key, or def.
func (p Params) Bool(key string, def bool) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	case float64:
		return v != 0
	}
	return def
}

// Strings returns the string list at key.
func (p Params) Strings(key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return strings.Split(v, ",")
	}
	return nil
}

// Has reports whether key is present.
func (p Params) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// Result is a command reply payload.
type Result map[string]interface{}

func ok(kv ...interface{}) Result {
	r := Result{"success": true}
	for i := 0; i+1 < len(kv); i += 2 {
		r[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return r
}

func fail(msg string, kv ...interface{}) Result {
	r := Result{"success": false, "error": msg}
	for i := 0; i+1 < len(kv); i += 2 {
		r[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return r
}

// toResult flattens a JSON-tagged struct into a Result.
func toResult(v interface{}) (Result, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var r Result
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	return r, nil
}

// remarshal decodes a generic JSON value into dst.
func remarshal(v interface{}, dst interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
