package model

import "fmt"

// Integer-encoded enums in the source are replicated as their string names so
// downstream queries never depend on the source's numeric encoding. Values
// outside the known range serialize to "Unknown(<n>)" rather than failing
// the row.

// TransactionTypeName maps a source TransactionType code to its wire string.
func TransactionTypeName(n int32) string {
	switch n {
	case 0:
		return "Sale"
	case 1:
		return "Purchase"
	case 2:
		return "Adjustment"
	default:
		return fmt.Sprintf("Unknown(%d)", n)
	}
}

// TransactionStatusName maps a source Status code to its wire string.
func TransactionStatusName(n int32) string {
	switch n {
	case 0:
		return "Pending"
	case 1:
		return "Completed"
	case 2:
		return "Cancelled"
	default:
		return fmt.Sprintf("Unknown(%d)", n)
	}
}
