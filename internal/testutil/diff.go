package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

// AssertSameJSON fails with a line diff when want and got marshal differently.
func AssertSameJSON(t *testing.T, want, got interface{}) {
	t.Helper()

	w, err := json.MarshalIndent(want, "", "  ")
	if err != nil {
		t.Fatalf("marshal want: %v", err)
	}
	g, err := json.MarshalIndent(got, "", "  ")
	if err != nil {
		t.Fatalf("marshal got: %v", err)
	}
	if !bytes.Equal(w, g) {
		t.Fatalf("JSON mismatch:\n%s", lineDiff(string(w), string(g)))
	}
}

// lineDiff renders changed lines with three lines of leading context.
func lineDiff(expected, got string) string {
	var buf bytes.Buffer
	el := strings.Split(expected, "\n")
	gl := strings.Split(got, "\n")

	fmt.Fprintln(&buf, "--- want")
	fmt.Fprintln(&buf, "+++ got")

	n := max(len(el), len(gl))
	lastPrinted := -1
	for i := 0; i < n; i++ {
		var e, g string
		if i < len(el) {
			e = el[i]
		}
		if i < len(gl) {
			g = gl[i]
		}
		if e == g {
			continue
		}
		for j := max(lastPrinted+1, i-3); j < i && j < len(el); j++ {
			fmt.Fprintf(&buf, " %s\n", el[j])
		}
		if i < len(el) {
			fmt.Fprintf(&buf, "-%s\n", e)
		}
		if i < len(gl) {
			fmt.Fprintf(&buf, "+%s\n", g)
		}
		lastPrinted = i
	}
	return buf.String()
}
