package knowledge

import (
	"sort"
	"strings"
)

// Normalize fills safe defaults for fields a stored document may be missing
// and returns the names of the fields it had to default. Stores call it once
// at the deserialization boundary and log a non-empty result as a data
// integrity warning; the document remains usable.
func Normalize(doc *Document) []string {
	var defaulted []string

	if doc.SkillTags == nil {
		doc.SkillTags = []string{}
		defaulted = append(defaulted, "skill_tags")
	}
	if doc.ErrorTypes == nil {
		doc.ErrorTypes = []string{}
	}
	if doc.ExerciseTypes == nil {
		doc.ExerciseTypes = []string{}
	}
	if doc.Difficulty != "" && !doc.Difficulty.Valid() {
		defaulted = append(defaulted, "difficulty")
		doc.Difficulty = ""
	}
	if doc.Embedding != nil && len(doc.Embedding.Vector) == 0 {
		doc.Embedding = nil
		defaulted = append(defaulted, "embedding")
	}

	e := &doc.Effectiveness
	if e.TimesUsed < 0 {
		e.TimesUsed = 0
		defaulted = append(defaulted, "effectiveness.times_used")
	}
	if e.HelpedCorrect < 0 {
		e.HelpedCorrect = 0
		defaulted = append(defaulted, "effectiveness.helped_correct")
	}
	if e.HelpedCorrect > e.TimesUsed {
		e.HelpedCorrect = e.TimesUsed
		defaulted = append(defaulted, "effectiveness.helped_correct")
	}

	doc.SkillTags = dedupe(doc.SkillTags)
	doc.ErrorTypes = dedupe(doc.ErrorTypes)
	doc.ExerciseTypes = dedupe(doc.ExerciseTypes)

	return defaulted
}

// dedupe removes empty and repeated entries, keeping first-seen order.
func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Contains reports whether values holds v.
func Contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

// Intersects reports whether a and b share at least one value.
func Intersects(a, b []string) bool {
	return CountShared(a, b) > 0
}

// CountShared returns how many distinct values of a also appear in b.
func CountShared(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(b))
	for _, v := range b {
		set[v] = struct{}{}
	}
	counted := make(map[string]struct{}, len(a))
	n := 0
	for _, v := range a {
		if _, ok := set[v]; !ok {
			continue
		}
		if _, ok := counted[v]; ok {
			continue
		}
		counted[v] = struct{}{}
		n++
	}
	return n
}

// SortedUnique returns the distinct values of all inputs in lexical order.
func SortedUnique(lists ...[]string) []string {
	seen := make(map[string]struct{})
	for _, l := range lists {
		for _, v := range l {
			if v != "" {
				seen[v] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
