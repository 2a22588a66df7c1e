// Package refdata holds the static state/city options offered on the report
// form. Issue submission validates against this list, so a report always
// carries a known state and a city that belongs to it.
package refdata

import "sort"

var citiesByState = map[string][]string{
	"Andhra Pradesh": {"Visakhapatnam", "Vijayawada", "Guntur", "Tirupati"},
	"Delhi":          {"New Delhi", "Dwarka", "Rohini", "Saket"},
	"Gujarat":        {"Ahmedabad", "Surat", "Vadodara", "Rajkot"},
	"Karnataka":      {"Bengaluru", "Mysuru", "Mangaluru", "Hubballi"},
	"Kerala":         {"Thiruvananthapuram", "Kochi", "Kozhikode", "Thrissur"},
	"Maharashtra":    {"Mumbai", "Pune", "Nagpur", "Nashik"},
	"Punjab":         {"Ludhiana", "Amritsar", "Jalandhar", "Patiala"},
	"Rajasthan":      {"Jaipur", "Jodhpur", "Udaipur", "Kota"},
	"Tamil Nadu":     {"Chennai", "Coimbatore", "Madurai", "Tiruchirappalli"},
	"Telangana":      {"Hyderabad", "Warangal", "Nizamabad", "Karimnagar"},
	"Uttar Pradesh":  {"Lucknow", "Kanpur", "Varanasi", "Agra"},
	"West Bengal":    {"Kolkata", "Howrah", "Durgapur", "Siliguri"},
}

// DefaultCategories is seeded into the store on first boot.
var DefaultCategories = []string{
	"Roads & Potholes",
	"Street Lighting",
	"Water Supply",
	"Garbage & Sanitation",
	"Drainage & Sewage",
	"Public Safety",
	"Parks & Trees",
	"Other",
}

// States lists the known states in stable order.
func States() []string {
	states := make([]string, 0, len(citiesByState))
	for state := range citiesByState {
		states = append(states, state)
	}
	sort.Strings(states)
	return states
}

// Cities returns the known cities for a state, or nil for an unknown state.
func Cities(state string) []string {
	cities, ok := citiesByState[state]
	if !ok {
		return nil
	}
	out := make([]string, len(cities))
	copy(out, cities)
	return out
}
