package queue

import (
	"cmp"
	"math"
	"slices"
	"strings"
)

// Cursor is a position in a key's processing order. An empty GUID compares equal to
// every item sharing the same order value, so a bare message id excludes all of its
// duplicates. A non-numeric MessageID with a zero Sequence stands for an item that has
// not been enqueued yet and therefore orders last.
type Cursor struct {
	MessageID string
	GUID      string
	Sequence  int64
}

func At(messageID string) Cursor {
	return Cursor{MessageID: messageID}
}

// Compare orders items for processing. Numeric message ids ("100", "1712345678.123456")
// come first by exact decimal value, non-numeric ids follow by enqueue sequence, and
// equal positions fall back to the smaller GUID.
func Compare(a, b Item) int {
	if c := compareValue(a.MessageID, a.Sequence, b.MessageID, b.Sequence); c != 0 {
		return c
	}
	return strings.Compare(a.GUID, b.GUID)
}

func SortItems(items []Item) {
	slices.SortFunc(items, Compare)
}

// sortGrouped orders by key, then processing order within the key.
func sortGrouped(items []Item) {
	slices.SortFunc(items, func(a, b Item) int {
		if c := cmp.Compare(a.Key.ChannelID, b.Key.ChannelID); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Key.ThreadID, b.Key.ThreadID); c != 0 {
			return c
		}
		return Compare(a, b)
	})
}

func compareToCursor(item Item, c Cursor) int {
	seq := c.Sequence
	if seq == 0 {
		if _, _, ok := splitDecimal(c.MessageID); !ok {
			seq = math.MaxInt64
		}
	}
	if v := compareValue(item.MessageID, item.Sequence, c.MessageID, seq); v != 0 {
		return v
	}
	if c.GUID == "" {
		return 0
	}
	return strings.Compare(item.GUID, c.GUID)
}

func compareValue(aID string, aSeq int64, bID string, bSeq int64) int {
	aInt, aFrac, aNum := splitDecimal(aID)
	bInt, bFrac, bNum := splitDecimal(bID)
	switch {
	case aNum && bNum:
		return compareDecimal(aInt, aFrac, bInt, bFrac)
	case aNum:
		return -1
	case bNum:
		return 1
	}
	if c := cmp.Compare(aSeq, bSeq); c != 0 {
		return c
	}
	return strings.Compare(aID, bID)
}

// splitDecimal accepts non-negative decimals of the form digits[.digits] and returns the
// integer part without leading zeros and the fraction without trailing zeros.
func splitDecimal(s string) (string, string, bool) {
	if s == "" {
		return "", "", false
	}
	intPart, fracPart, hasDot := strings.Cut(s, ".")
	if intPart == "" || !allDigits(intPart) {
		return "", "", false
	}
	if hasDot && (fracPart == "" || !allDigits(fracPart)) {
		return "", "", false
	}
	intPart = strings.TrimLeft(intPart, "0")
	if intPart == "" {
		intPart = "0"
	}
	return intPart, strings.TrimRight(fracPart, "0"), true
}

func compareDecimal(aInt, aFrac, bInt, bFrac string) int {
	if c := cmp.Compare(len(aInt), len(bInt)); c != 0 {
		return c
	}
	if c := strings.Compare(aInt, bInt); c != 0 {
		return c
	}
	width := max(len(aFrac), len(bFrac))
	return strings.Compare(padRight(aFrac, width), padRight(bFrac, width))
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat("0", width-len(s))
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
