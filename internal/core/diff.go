package core

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// DiffLineType classifies one line in a side-by-side diff.
type DiffLineType string

const (
	DiffCommon  DiffLineType = "common"
	DiffAdded   DiffLineType = "added"
	DiffRemoved DiffLineType = "removed"
)

// DiffLine is a single line in a side-by-side comparison.
type DiffLine struct {
	Type    DiffLineType
	Content string
	Number  int // 1-based line number in its own document
}

// DiffSummary counts the changes between two document bodies.
type DiffSummary struct {
	Additions int
	Deletions int
	Changes   int
}

// UnifiedDiff renders a unified diff between two text bodies. Pure, no I/O.
func UnifiedDiff(a, b, aLabel, bLabel string) (string, error) {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(a),
		B:        difflib.SplitLines(b),
		FromFile: aLabel,
		ToFile:   bLabel,
		Context:  3,
	}
	return difflib.GetUnifiedDiffString(diff)
}

// SideBySide produces aligned line records for both documents, classifying
// each line as common, added or removed.
func SideBySide(a, b string) ([]DiffLine, []DiffLine) {
	aLines := strings.Split(a, "\n")
	bLines := strings.Split(b, "\n")

	matcher := difflib.NewMatcher(aLines, bLines)

	var left, right []DiffLine
	for _, op := range matcher.GetOpCodes() {
		switch op.Tag {
		case 'e': // equal
			for i, line := range aLines[op.I1:op.I2] {
				left = append(left, DiffLine{Type: DiffCommon, Content: line, Number: op.I1 + i + 1})
			}
			for j, line := range bLines[op.J1:op.J2] {
				right = append(right, DiffLine{Type: DiffCommon, Content: line, Number: op.J1 + j + 1})
			}
		case 'd': // delete
			for i, line := range aLines[op.I1:op.I2] {
				left = append(left, DiffLine{Type: DiffRemoved, Content: line, Number: op.I1 + i + 1})
			}
		case 'i': // insert
			for j, line := range bLines[op.J1:op.J2] {
				right = append(right, DiffLine{Type: DiffAdded, Content: line, Number: op.J1 + j + 1})
			}
		case 'r': // replace
			for i, line := range aLines[op.I1:op.I2] {
				left = append(left, DiffLine{Type: DiffRemoved, Content: line, Number: op.I1 + i + 1})
			}
			for j, line := range bLines[op.J1:op.J2] {
				right = append(right, DiffLine{Type: DiffAdded, Content: line, Number: op.J1 + j + 1})
			}
		}
	}

	return left, right
}

// HasChanges reports whether the two bodies differ, ignoring leading and
// trailing whitespace.
func HasChanges(a, b string) bool {
	return strings.TrimSpace(a) != strings.TrimSpace(b)
}

// ChangeSummary counts added, deleted and replaced lines between two bodies.
func ChangeSummary(a, b string) DiffSummary {
	aLines := strings.Split(a, "\n")
	bLines := strings.Split(b, "\n")

	matcher := difflib.NewMatcher(aLines, bLines)

	var s DiffSummary
	for _, op := range matcher.GetOpCodes() {
		switch op.Tag {
		case 'd':
			s.Deletions += op.I2 - op.I1
		case 'i':
			s.Additions += op.J2 - op.J1
		case 'r':
			s.Changes += max(op.I2-op.I1, op.J2-op.J1)
		}
	}
	return s
}
