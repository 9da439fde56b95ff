package model

import (
	"crypto/sha256"
	"fmt"
	"strconv"
	"strings"
)

// Fingerprint creates the dedup identity of an item within a statement.
// Absent optional fields encode as empty strings.
func Fingerprint(issuer string, dueDate *string, item StatementItem) string {
	parts := []string{
		issuer,
		deref(dueDate),
		deref(item.PostedAt),
		item.DescriptionRaw,
		strconv.FormatInt(item.AmountMinor, 10),
		item.Currency,
		string(item.Direction),
		string(item.Kind),
		derefInt(item.InstallmentN),
		derefInt(item.InstallmentTotal),
	}
	hash := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return fmt.Sprintf("%x", hash)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}
