package matbox

import (
	"fmt"
	"strings"
)

// Category is the closed classification of a material.
type Category string

// Category constants (typed).
const (
	CategoryPresentation Category = "Presentation"
	CategoryApplication  Category = "Application"
	CategoryOther        Category = "Other"
)

var categories = []Category{CategoryPresentation, CategoryApplication, CategoryOther}

// Categories returns every valid category in declaration order.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

// IsValid reports whether c is one of the declared categories.
func (c Category) IsValid() bool {
	for _, known := range categories {
		if c == known {
			return true
		}
	}
	return false
}

func (c Category) String() string {
	return string(c)
}

// ParseCategory converts user input into a Category.
//
// Names are matched case-insensitively. The numeric codes 1, 2 and 3 are
// accepted as Presentation, Application and Other respectively, which is how
// older clients submit the category form field.
func ParseCategory(s string) (Category, error) {
	trimmed := strings.TrimSpace(s)
	switch trimmed {
	case "1":
		return CategoryPresentation, nil
	case "2":
		return CategoryApplication, nil
	case "3":
		return CategoryOther, nil
	}
	for _, known := range categories {
		if strings.EqualFold(trimmed, string(known)) {
			return known, nil
		}
	}
	return "", fmt.Errorf("%w: %q (use %s)", ErrInvalidCategory, s, categoryList())
}

func categoryList() string {
	names := make([]string, len(categories))
	for i, c := range categories {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
