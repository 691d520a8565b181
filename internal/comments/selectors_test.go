package comments

import (
	"slices"
	"testing"
)

func TestSelectorsFromElementPath(testContext *testing.T) {
	path := []Element{
		{NodeName: "SPAN", NthChild: 2},
		{NodeName: "DIV", ID: "canvas", Classes: []string{"relative", "flex"}, NthChild: 1},
		{NodeName: "MAIN", NthChild: 3},
		{NodeName: "BODY", NthChild: 2},
		{NodeName: "HTML", ID: "root"},
	}
	selectors, ok := Selectors(path)
	if !ok {
		testContext.Fatalf("expected selectors")
	}
	expected := []string{
		"root",
		"#canvas>SPAN:nth-child(2)",
		"BODY:nth-child(2)>MAIN:nth-child(3)>DIV:nth-child(1)>SPAN:nth-child(2)",
		"BODY>MAIN>DIV.relative.flex>SPAN",
	}
	if !slices.Equal(selectors, expected) {
		testContext.Fatalf("unexpected selectors\n got: %q\nwant: %q", selectors, expected)
	}
}

func TestSelectorsWithoutIDOmitIDPath(testContext *testing.T) {
	selectors, ok := Selectors([]Element{{NodeName: "P", NthChild: 1}, {NodeName: "BODY", NthChild: 2}})
	if !ok || !slices.Equal(selectors, []string{"BODY:nth-child(2)>P:nth-child(1)", "BODY>P"}) {
		testContext.Fatalf("unexpected selectors %q", selectors)
	}
}

func TestSelectorsRejectHiddenOverlay(testContext *testing.T) {
	if _, ok := Selectors([]Element{{NodeName: "DIV", HideCursors: true}}); ok {
		testContext.Fatalf("expected overlays to be rejected")
	}
}
