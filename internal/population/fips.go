package population

import (
	"slices"
	"strings"
)

// StateFIPS maps state names to two-digit FIPS codes.
var StateFIPS = map[string]string{
	"Alabama": "01", "Alaska": "02", "Arizona": "04", "Arkansas": "05",
	"California": "06", "Colorado": "08", "Connecticut": "09", "Delaware": "10",
	"District of Columbia": "11", "Florida": "12", "Georgia": "13", "Hawaii": "15",
	"Idaho": "16", "Illinois": "17", "Indiana": "18", "Iowa": "19",
	"Kansas": "20", "Kentucky": "21", "Louisiana": "22", "Maine": "23",
	"Maryland": "24", "Massachusetts": "25", "Michigan": "26", "Minnesota": "27",
	"Mississippi": "28", "Missouri": "29", "Montana": "30", "Nebraska": "31",
	"Nevada": "32", "New Hampshire": "33", "New Jersey": "34", "New Mexico": "35",
	"New York": "36", "North Carolina": "37", "North Dakota": "38", "Ohio": "39",
	"Oklahoma": "40", "Oregon": "41", "Pennsylvania": "42", "Rhode Island": "44",
	"South Carolina": "45", "South Dakota": "46", "Tennessee": "47", "Texas": "48",
	"Utah": "49", "Vermont": "50", "Virginia": "51", "Washington": "53",
	"West Virginia": "54", "Wisconsin": "55", "Wyoming": "56",
}

// States returns every state name in alphabetical order.
func States() []string {
	names := make([]string, 0, len(StateFIPS))
	for name := range StateFIPS {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// FIPS returns the code for a state name, matched case-insensitively.
func FIPS(state string) (string, bool) {
	if code, ok := StateFIPS[state]; ok {
		return code, true
	}
	for name, code := range StateFIPS {
		if strings.EqualFold(name, strings.TrimSpace(state)) {
			return code, true
		}
	}
	return "", false
}

// StateName returns the state name for a FIPS code.
func StateName(code string) (string, bool) {
	for name, c := range StateFIPS {
		if c == code {
			return name, true
		}
	}
	return "", false
}
