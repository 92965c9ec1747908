package extract

import (
	"fmt"
	"strings"
)

// Citation renders the finding as a one-line markdown citation. Parsing the
// citation again yields the same severity and rule id.
func (f Finding) Citation() string {
	sev := f.Severity
	if sev == "" {
		sev = SeverityMinor
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**%s**", strings.ToUpper(string(sev[:1]))+string(sev[1:]))
	if f.RuleID != "" {
		fmt.Fprintf(&b, " Rule #%s", f.RuleID)
	}
	if f.Summary != "" {
		b.WriteString(": ")
		b.WriteString(neutralizeRules(strings.ReplaceAll(f.Summary, "*", "")))
	}
	if len(f.References) > 0 {
		locs := make([]string, 0, len(f.References))
		for _, r := range f.References {
			locs = append(locs, fmt.Sprintf("`%s:%d`", r.Path, r.Line))
		}
		fmt.Fprintf(&b, " (%s)", strings.Join(locs, ", "))
	}
	if f.SecuritySensitive {
		b.WriteString(" [security]")
	}
	return b.String()
}

// neutralizeRules drops the "#" from rule mentions in free text so only the
// rule id rendered up front is read back.
func neutralizeRules(s string) string {
	return ruleRe.ReplaceAllStringFunc(s, func(m string) string {
		return strings.Replace(m, "#", "", 1)
	})
}
