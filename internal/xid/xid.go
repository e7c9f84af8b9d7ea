package xid

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New returns prefix-<uuidv7>. Version 7 ids sort by creation time, which
// keeps btree inserts append-only.
func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return prefix + "-" + id.String()
}
