// Package numerology implements the digit reductions behind the daily draw and
// the profile numerology summary.
package numerology

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// IsMaster reports whether n is one of the master numbers 11, 22 or 33.
func IsMaster(n int) bool {
	return n == 11 || n == 22 || n == 33
}

// DigitSum returns the sum of the decimal digits of |n|.
func DigitSum(n int) int {
	if n < 0 {
		n = -n
	}
	sum := 0
	for n > 0 {
		sum += n % 10
		n /= 10
	}
	return sum
}

// Reduce sums digits until a single digit remains. With keepMasters the
// reduction stops at a master number.
func Reduce(n int, keepMasters bool) int {
	if n < 0 {
		n = -n
	}
	for n > 9 {
		if keepMasters && IsMaster(n) {
			break
		}
		n = DigitSum(n)
	}
	return n
}

// LifePath derives the life path number from a birth date. Master numbers are
// kept.
func LifePath(birth time.Time) int {
	return Reduce(DigitSum(birth.Day())+DigitSum(int(birth.Month()))+DigitSum(birth.Year()), true)
}

// PersonalYear is the birth day and month combined with a calendar year.
func PersonalYear(birth time.Time, year int) int {
	return Reduce(DigitSum(birth.Day())+DigitSum(int(birth.Month()))+DigitSum(year), false)
}

// PersonalMonth combines the personal year with the month of date.
func PersonalMonth(birth, date time.Time) int {
	return Reduce(PersonalYear(birth, date.Year())+int(date.Month()), false)
}

// PersonalDay combines the personal month with the day of date. The result
// is always within 1..9.
func PersonalDay(birth, date time.Time) int {
	return Reduce(PersonalMonth(birth, date)+date.Day(), false)
}

// DrawNumber is the personal day with master numbers kept, so 11, 22 and 33
// days select their own messages.
func DrawNumber(birth, date time.Time) int {
	return Reduce(PersonalMonth(birth, date)+date.Day(), true)
}

var foldDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Expression computes the Pythagorean expression number of a full name.
// Letters map A=1 .. I=9, J=1 .. R=9, S=1 .. Z=8. Accents are folded and
// non-letters ignored. Returns 0 when the name has no letters.
func Expression(name string) int {
	folded, _, err := transform.String(foldDiacritics, name)
	if err != nil {
		folded = name
	}
	sum := 0
	for _, r := range strings.ToUpper(folded) {
		if r < 'A' || r > 'Z' {
			continue
		}
		sum += int(r-'A')%9 + 1
	}
	return Reduce(sum, true)
}

// SelectIndex picks a deterministic index within [0, n) for a date. It returns
// -1 when n is zero.
func SelectIndex(seed int, date time.Time, n int) int {
	if n <= 0 {
		return -1
	}
	idx := (date.YearDay() + seed) % n
	if idx < 0 {
		idx += n
	}
	return idx
}

// Summary is the numerology overview shown on a profile.
type Summary struct {
	LifePath    int `json:"life_path"`
	Expression  int `json:"expression"`
	PersonalDay int `json:"personal_day"`
}

// Summarize computes the profile summary for date.
func Summarize(fullName string, birth, date time.Time) Summary {
	return Summary{
		LifePath:    LifePath(birth),
		Expression:  Expression(fullName),
		PersonalDay: PersonalDay(birth, date),
	}
}
