package extract

import (
	"regexp"
	"sort"
	"strconv"
)

const pathPattern = `[\w.\-/]*[\w\-]\.[A-Za-z0-9]+`

// Reference shapes in priority order.
var referencePatterns = []*regexp.Regexp{
	// `path:line`
	regexp.MustCompile("`(" + pathPattern + `):(\d+)(?:-\d+)?` + "`"),
	// path:line
	regexp.MustCompile(`(?:^|[\s(\[])(` + pathPattern + `):(\d+)\b`),
	// **path** ... line N
	regexp.MustCompile(`\*\*(` + pathPattern + `)\*\*[^\n]*?\blines?\s+(\d+)`),
	// [path](url) ... line N
	regexp.MustCompile(`\[(` + pathPattern + `)\]\([^)\s]*\)[^\n]*?\blines?\s+(\d+)`),
}

type locatedRef struct {
	Reference
	offset int
}

// scanReferences returns (path, line) pairs in priority order, de-duplicated.
func scanReferences(body string) []locatedRef {
	seen := make(map[Reference]bool)
	var refs []locatedRef
	for _, re := range referencePatterns {
		for _, m := range re.FindAllStringSubmatchIndex(body, -1) {
			line, err := strconv.Atoi(body[m[4]:m[5]])
			if err != nil || line <= 0 {
				continue
			}
			ref := Reference{Path: body[m[2]:m[3]], Line: line}
			if seen[ref] {
				continue
			}
			seen[ref] = true
			refs = append(refs, locatedRef{Reference: ref, offset: m[2]})
		}
	}
	return refs
}

func sortByOffset(refs []locatedRef) {
	sort.SliceStable(refs, func(i, j int) bool { return refs[i].offset < refs[j].offset })
}
