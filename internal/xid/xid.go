package xid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return fmt.Sprintf("%s-%s", prefix, id.String())
}

// OrderID formats a human readable work-order id, e.g. SC-HN-000042.
func OrderID(prefix string, branchID string, seq int64) string {
	branch := strings.ToUpper(strings.TrimSpace(branchID))
	if branch == "" {
		return fmt.Sprintf("%s-%06d", prefix, seq)
	}
	return fmt.Sprintf("%s-%s-%06d", prefix, branch, seq)
}
