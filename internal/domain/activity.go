package domain

import (
	"strings"
	"unicode"
)

// ActivityKind is the closed set of activity categories the scheduling rules understand.
type ActivityKind string

const (
	KindRun   ActivityKind = "run"
	KindSauna ActivityKind = "sauna"
	KindPost  ActivityKind = "post" // fasting
	KindWater ActivityKind = "water"
	KindYoga  ActivityKind = "yoga"
	KindOther ActivityKind = "other"
)

// activityKeywords is checked top to bottom; the first kind with a matching keyword wins.
// Sauna precedes water so "sauna + pool" protocols classify as sauna. Stems match the start
// of a word ("swim" matches "swimming"), words and phrases only match whole words, so
// "breakfast", "brunch" and "postural" stay unmatched.
var activityKeywords = []struct {
	kind  ActivityKind
	stems []string
	words []string
}{
	{KindSauna, []string{"sauna", "banya", "сауна", "баня", "бани", "бане", "баню", "парилк"}, nil},
	{KindPost, []string{"fast", "голод"}, []string{"post", "пост"}},
	{KindRun, []string{"run", "jog", "бег", "пробеж"}, nil},
	{KindWater, []string{"water", "swim", "pool", "вода", "воды", "воде", "водн", "плав", "бассейн", "прорубь"}, []string{"cold plunge"}},
	{KindYoga, []string{"yoga", "stretch", "йог", "растяж"}, nil},
}

// NormalizeActivity maps a free-text activity label to an ActivityKind.
func NormalizeActivity(label string) ActivityKind {
	tokens := strings.FieldsFunc(strings.ToLower(label), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(tokens) == 0 {
		return KindOther
	}
	joined := " " + strings.Join(tokens, " ") + " "
	for _, entry := range activityKeywords {
		for _, word := range entry.words {
			if strings.Contains(joined, " "+word+" ") {
				return entry.kind
			}
		}
		for _, stem := range entry.stems {
			if strings.Contains(joined, " "+stem) {
				return entry.kind
			}
		}
	}
	return KindOther
}

// Exclusive reports whether the kind belongs to the same-day mutually exclusive group.
func (k ActivityKind) Exclusive() bool {
	switch k {
	case KindRun, KindSauna, KindPost:
		return true
	default:
		return false
	}
}

// sortRank orders kinds for day listings.
func (k ActivityKind) sortRank() int {
	switch k {
	case KindWater:
		return 0
	case KindSauna:
		return 1
	case KindRun:
		return 2
	case KindYoga:
		return 3
	case KindPost:
		return 4
	default:
		return 5
	}
}

// Less orders kinds for stable day listings.
func (k ActivityKind) Less(other ActivityKind) bool {
	return k.sortRank() < other.sortRank()
}
