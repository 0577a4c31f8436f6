package xid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a random id such as "sale-3f2b9c...". Ids carry no ordering.
func New(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}
