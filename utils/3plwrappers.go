package utils

import (
	"strings"

	"github.com/google/uuid"
)

func GetUUID() string {
	return uuid.NewString()
}

// Reference builds a gateway reference such as "AGM-3f2a...". Gateway
// references are limited to 100 characters.
func Reference(prefix string) string {
	return strings.ToUpper(prefix) + "-" + uuid.NewString()
}
