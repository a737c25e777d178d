package category

import "strings"

// Category is the closed set of spending categories an item can belong to
type Category string

const (
	Food          Category = "food"
	Beverage      Category = "beverage"
	Transport     Category = "transport"
	Lodging       Category = "lodging"
	Shopping      Category = "shopping"
	Entertainment Category = "entertainment"
	Health        Category = "health"
	Other         Category = "other"
)

// All lists every category in display order
var All = []Category{Food, Beverage, Transport, Lodging, Shopping, Entertainment, Health, Other}

// Parse matches s against the enumerated categories.
// Matching ignores surrounding whitespace and case.
func Parse(s string) (Category, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, c := range All {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

func (c Category) String() string {
	return string(c)
}
