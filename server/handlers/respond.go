package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"status": "error", "message": message})
}

// body is a loosely typed JSON request body. Browsers send numbers as
// either JSON numbers or strings, so accessors accept both.
type body map[string]interface{}

// decodeBody reads an optional JSON object. An empty body yields an empty
// map.
func decodeBody(r *http.Request) (body, error) {
	b := body{}
	if r.Body == nil {
		return b, nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&b)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return b, nil
}

func (b body) has(key string) bool {
	v, ok := b[key]
	return ok && v != nil
}

func (b body) str(key, def string) string {
	switch v := b[key].(type) {
	case string:
		if v != "" {
			return v
		}
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return def
}

func (b body) integer(key string, def int) int {
	switch v := b[key].(type) {
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func (b body) boolean(key string, def bool) bool {
	switch v := b[key].(type) {
	case bool:
		return v
	case string:
		if p, err := strconv.ParseBool(v); err == nil {
			return p
		}
	}
	return def
}

func (b body) object(key string) map[string]interface{} {
	if m, ok := b[key].(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{}
}

func (b body) ints(key string) []int {
	list, ok := b[key].([]interface{})
	if !ok {
		return nil
	}
	var out []int
	for _, v := range list {
		if f, ok := v.(float64); ok {
			out = append(out, int(f))
		}
	}
	return out
}

func queryInt(r *http.Request, key string, def int) int {
	if n, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil {
		return n
	}
	return def
}

func queryBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return b
}
