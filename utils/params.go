package utils

import (
	"net/http"
	"strconv"
)

// QueryInt reads a positive integer query parameter, clamped to max.
func QueryInt(r *http.Request, key string, def, max int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}
