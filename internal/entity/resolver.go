// Package entity merges raw source identifiers into stable canonical
// identities using a deterministic name + jurisdiction normalization.
// Merge decisions are inspectable: the heuristic is a pure function, and a
// manual override table keyed by raw identifier corrects it without
// re-deriving anything.
package entity

import (
	"sort"
	"strings"

	"filingwatch/internal/domain"
)

var honorifics = map[string]bool{
	"MR": true, "MRS": true, "MS": true, "DR": true,
	"HON": true, "REV": true, "SEN": true, "REP": true,
}

var suffixes = map[string]bool{
	"JR": true, "SR": true, "II": true, "III": true, "IV": true,
	"MD": true, "ESQ": true, "PHD": true,
}

// roleRank orders offices by seniority; a higher office observed on any
// linked raw record supersedes a lower one on the canonical entity.
var roleRank = map[string]int{
	"PRESIDENT": 4,
	"SENATE":    3,
	"HOUSE":     2,
	"CANDIDATE": 1,
}

type nameParts struct {
	First  string
	Middle string
	Last   string
}

// normalizeName parses a person name in either "Last, First Middle" or
// "First Middle Last" ordering, strips honorifics and suffixes, and folds
// case. It is deliberately narrow: no nickname tables, no phonetics.
func normalizeName(full string) nameParts {
	full = strings.ToUpper(full)
	full = strings.ReplaceAll(full, ".", "")

	var last, rest string
	if i := strings.IndexByte(full, ','); i >= 0 {
		last = strings.TrimSpace(full[:i])
		rest = strings.TrimSpace(full[i+1:])
	}

	clean := func(s string) []string {
		var words []string
		for _, w := range strings.Fields(s) {
			if honorifics[w] || suffixes[w] {
				continue
			}
			words = append(words, w)
		}
		return words
	}

	if last != "" {
		words := clean(rest)
		p := nameParts{Last: last}
		if len(words) > 0 {
			p.First = words[0]
		}
		if len(words) > 1 {
			p.Middle = strings.Join(words[1:], " ")
		}
		return p
	}

	words := clean(full)
	switch len(words) {
	case 0:
		return nameParts{}
	case 1:
		return nameParts{Last: words[0]}
	default:
		return nameParts{
			First:  words[0],
			Middle: strings.Join(words[1:len(words)-1], " "),
			Last:   words[len(words)-1],
		}
	}
}

// CanonicalKey derives the stable slug for a raw filer name and
// jurisdiction. Equal keys mean "same real-world subject" to the pipeline.
func CanonicalKey(fullName, jurisdiction string) string {
	p := normalizeName(fullName)
	return slugify(p.Last + " " + p.First + " " + strings.ToUpper(jurisdiction))
}

func slugify(s string) string {
	var b strings.Builder
	prevDash := true // trim leading dashes
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			prevDash = false
		default:
			if !prevDash {
				b.WriteByte('-')
				prevDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func displayName(full string) string {
	p := normalizeName(full)
	var words []string
	for _, w := range strings.Fields(p.First + " " + p.Middle + " " + p.Last) {
		words = append(words, titleWord(w))
	}
	return strings.Join(words, " ")
}

func titleWord(w string) string {
	if w == "" {
		return w
	}
	return w[:1] + strings.ToLower(w[1:])
}

func rank(role string) int {
	return roleRank[strings.ToUpper(strings.TrimSpace(role))]
}

// Resolve groups raw filers into canonical entities. Overrides map a raw ID
// directly to a canonical key and win over the heuristic. The result is
// independent of input order: raws are sorted by raw ID before grouping and
// entities are returned sorted by key.
func Resolve(raws []domain.RawFiler, overrides map[string]string) []domain.CanonicalEntity {
	sorted := make([]domain.RawFiler, len(raws))
	copy(sorted, raws)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RawID < sorted[j].RawID })

	groups := make(map[string]*domain.CanonicalEntity)
	for _, raw := range sorted {
		key := overrides[raw.RawID]
		if key == "" {
			key = CanonicalKey(raw.FullName, raw.Jurisdiction)
		}

		ent, ok := groups[key]
		if !ok {
			ent = &domain.CanonicalEntity{
				Key:          key,
				DisplayName:  displayName(raw.FullName),
				Role:         strings.ToUpper(strings.TrimSpace(raw.Role)),
				Jurisdiction: strings.ToUpper(raw.Jurisdiction),
			}
			groups[key] = ent
		}

		if rank(raw.Role) > rank(ent.Role) {
			ent.Role = strings.ToUpper(strings.TrimSpace(raw.Role))
		}
		ent.RawIDs = append(ent.RawIDs, raw.RawID)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entities := make([]domain.CanonicalEntity, 0, len(keys))
	for _, k := range keys {
		entities = append(entities, *groups[k])
	}
	return entities
}
