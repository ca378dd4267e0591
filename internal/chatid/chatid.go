// Package chatid builds canonical identifiers shared across the gateway.
package chatid

import "strconv"

// Conversation returns the canonical conversation id for a direct-message
// pair, independent of argument order: the smaller user id always comes
// first. Two users always address the same conversation regardless of who
// initiated it.
func Conversation(a, b int32) string {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	return strconv.FormatInt(int64(lo), 10) + "_" + strconv.FormatInt(int64(hi), 10)
}
