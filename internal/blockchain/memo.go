package blockchain

import (
	"fmt"
	"strings"
)

// MemoVersion is the only memo layout currently written.
const MemoVersion = 1

const memoSeparator = "-"

// EncodeMemo builds "{version}-{appID}-{orderID}".
func EncodeMemo(appID, orderID string) string {
	return fmt.Sprintf("%d%s%s%s%s", MemoVersion, memoSeparator, appID, memoSeparator, orderID)
}

// ExtractOrderID returns the order id of a memo written by appID. Memos of other
// applications, or that do not have exactly three segments, are not ours.
func ExtractOrderID(appID, memo string) (string, bool) {
	parts := strings.Split(memo, memoSeparator)
	if len(parts) != 3 {
		return "", false
	}
	if parts[1] != appID || parts[2] == "" {
		return "", false
	}
	return parts[2], true
}
