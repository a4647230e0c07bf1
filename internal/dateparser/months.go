package dateparser

import (
	"sort"
	"strconv"
	"strings"
)

// monthNames are the literal month names scrapers run into, english and
// german, full and abbreviated.
var monthNames = map[int][]string{
	1:  {"jan", "january", "januar", "jänner"},
	2:  {"feb", "february", "februar"},
	3:  {"mar", "march", "märz", "maerz", "mär", "mrz"},
	4:  {"apr", "april"},
	5:  {"may", "mai"},
	6:  {"jun", "june", "juni"},
	7:  {"jul", "july", "juli"},
	8:  {"aug", "august"},
	9:  {"sep", "sept", "september"},
	10: {"oct", "october", "okt", "oktober"},
	11: {"nov", "november"},
	12: {"dec", "december", "dez", "dezember"},
}

type monthName struct {
	name  string
	month int
}

// monthsByLength holds every name per month, longest first so "september"
// is replaced before "sep" gets a chance to leave "tember" behind.
var monthsByLength = func() [][]monthName {
	out := make([][]monthName, 0, len(monthNames))
	for month := 1; month <= 12; month++ {
		names := make([]monthName, 0, len(monthNames[month]))
		for _, name := range monthNames[month] {
			names = append(names, monthName{name: name, month: month})
		}
		sort.SliceStable(names, func(i, j int) bool {
			return len(names[i].name) > len(names[j].name)
		})
		out = append(out, names)
	}
	return out
}()

// replaceMonths replaces the first month found (in calendar order) by
// "<number>.".
func replaceMonths(date string) string {
	for _, names := range monthsByLength {
		for _, m := range names {
			if strings.Contains(date, m.name) {
				return strings.ReplaceAll(date, m.name, strconv.Itoa(m.month)+".")
			}
		}
	}
	return date
}
