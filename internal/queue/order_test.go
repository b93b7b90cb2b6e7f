package queue

import (
	"reflect"
	"testing"
)

func TestCompareNumericIDs(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"99", "100", -1},
		{"100", "100.0", 0},
		{"0100", "100", 0},
		{"1712345678.123456", "1712345678.1234561", -1},
		{"1712345678.9", "1712345679", -1},
		{"1712345678.10", "1712345678.1", 0},
		{"2", "10", -1},
	}
	for _, tc := range cases {
		got := compareValue(tc.a, 0, tc.b, 0)
		if got != tc.want {
			t.Fatalf("compareValue(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestSortItemsTieBreaksOnGUID(t *testing.T) {
	items := []Item{
		{MessageID: "101", GUID: "b"},
		{MessageID: "abc", GUID: "a", Sequence: 2},
		{MessageID: "101", GUID: "a"},
		{MessageID: "xyz", GUID: "a", Sequence: 1},
		{MessageID: "100", GUID: "z"},
	}
	SortItems(items)

	got := make([]string, 0, len(items))
	for _, item := range items {
		got = append(got, item.MessageID+"/"+item.GUID)
	}
	want := []string{"100/z", "101/a", "101/b", "xyz/a", "abc/a"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected order: want=%v got=%v", want, got)
	}
}

func TestCursorComparison(t *testing.T) {
	item := Item{MessageID: "500", GUID: "g2"}
	if c := compareToCursor(item, At("500")); c != 0 {
		t.Fatalf("bare message id should match duplicates, got %d", c)
	}
	if c := compareToCursor(item, Cursor{MessageID: "500", GUID: "g1"}); c != 1 {
		t.Fatalf("expected item after g1 cursor, got %d", c)
	}

	stored := Item{MessageID: "not-a-number", Sequence: 42}
	if c := compareToCursor(stored, At("another")); c != -1 {
		t.Fatalf("non-numeric cursor without sequence should order last, got %d", c)
	}
}
