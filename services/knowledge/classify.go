// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package knowledge

import "strings"

// Entity categories assigned during graph ingestion. The category is
// set once when a node is first created and never rewritten.
const (
	CategoryStatute      = "Statute"
	CategoryOrganization = "Organization"
	CategoryPerson       = "Person"
	CategoryEntity       = "Entity"
)

// classifyRule maps substring markers to a category. Rules are checked
// in order; the first rule with any matching marker wins.
type classifyRule struct {
	markers  []string
	category string
}

var classifyRules = []classifyRule{
	{[]string{"section", "article", "act", "code", "regulation"}, CategoryStatute},
	{[]string{"inc", "ltd", "corp", "company", "organization"}, CategoryOrganization},
	{[]string{"mr.", "mrs.", "ms.", "dr.", "judge"}, CategoryPerson},
}

// ClassifyEntity assigns a category to an entity name by substring
// matching. It is a fast heuristic stand-in for model-based typing and
// deliberately has no storage dependency.
func ClassifyEntity(name string) string {
	lower := strings.ToLower(name)
	for _, rule := range classifyRules {
		for _, marker := range rule.markers {
			if strings.Contains(lower, marker) {
				return rule.category
			}
		}
	}
	return CategoryEntity
}
