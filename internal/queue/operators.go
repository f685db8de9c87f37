package queue

import (
	"strings"

	"qms/branch-queue/internal/models"
)

// operatorCounters is checked in order; the first name fragment contained
// in the operator's display name decides the counter.
var operatorCounters = []struct {
	fragment string
	code     string
}{
	{fragment: "Teller", code: "A"},
	{fragment: "VIP", code: "B"},
	{fragment: "Customer", code: "C"},
}

func ResolveOperator(name string) (models.Counter, error) {
	for _, entry := range operatorCounters {
		if strings.Contains(name, entry.fragment) {
			counter, _ := models.LookupCounter(entry.code)
			return counter, nil
		}
	}
	return models.Counter{}, ErrUnrecognizedOperator
}

// OperatorKey is the serving projection key of an operator: the lowercased
// display name with spaces replaced by underscores.
func OperatorKey(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}
