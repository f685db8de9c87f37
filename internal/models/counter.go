package models

// Counter is a service line customers queue for. Ticket numbers are
// prefixed with its code.
type Counter struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

var Counters = []Counter{
	{Code: "A", Name: "Teller"},
	{Code: "B", Name: "VIP"},
	{Code: "C", Name: "Customer Service"},
}

func LookupCounter(code string) (Counter, bool) {
	for _, counter := range Counters {
		if counter.Code == code {
			return counter, true
		}
	}
	return Counter{}, false
}
