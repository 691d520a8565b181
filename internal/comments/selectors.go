package comments

import (
	"fmt"
	"slices"
	"strings"
)

// Element is one node of the path under a pointer event, innermost first.
type Element struct {
	NodeName string   `json:"nodeName"`
	ID       string   `json:"id,omitempty"`
	Classes  []string `json:"classes,omitempty"`
	// NthChild is the 1-based index among the parent's children; zero when there is no parent.
	NthChild int `json:"nthChild,omitempty"`
	// HideCursors marks overlays that must never anchor a thread.
	HideCursors bool `json:"hideCursors,omitempty"`
}

// Selectors derives the structural anchors for a thread from the element path under the pointer.
// It returns, in order and omitting empty ones: the outermost element's id, an nth-child path
// rooted at the nearest element with an id, the full nth-child path and a class-name path.
// The walk stops at body. It reports false when the path crosses a HideCursors element.
func Selectors(path []Element) ([]string, bool) {
	var fromLowestID, nthChild, classNames []string
	lowestID := ""
	for _, element := range path {
		if element.HideCursors {
			return nil, false
		}
		if element.NthChild > 0 {
			current := fmt.Sprintf("%s:nth-child(%d)", element.NodeName, element.NthChild)
			nthChild = append(nthChild, current)
			if lowestID == "" {
				fromLowestID = append(fromLowestID, current)
			}
			if lowestID == "" && element.ID != "" {
				lowestID = element.ID
			}
		}
		if len(element.Classes) > 0 {
			classNames = append(classNames, element.NodeName+"."+strings.Join(element.Classes, "."))
		} else {
			classNames = append(classNames, element.NodeName)
		}
		if strings.EqualFold(element.NodeName, "body") {
			break
		}
	}

	if lowestID == "" {
		fromLowestID = nil
	} else {
		fromLowestID[len(fromLowestID)-1] = "#" + lowestID
	}

	outermostID := ""
	if len(path) > 0 {
		outermostID = path[len(path)-1].ID
	}
	candidates := []string{outermostID, joinReversed(fromLowestID), joinReversed(nthChild), joinReversed(classNames)}
	return slices.DeleteFunc(candidates, func(selector string) bool { return selector == "" }), true
}

func joinReversed(parts []string) string {
	reversed := slices.Clone(parts)
	slices.Reverse(reversed)
	return strings.Join(reversed, ">")
}
