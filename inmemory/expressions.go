package inmemory

import (
	"github.com/letmevibethatforyou/imagesearch"
)

// matchesFilters checks if a document matches all the filter expressions.
func matchesFilters(doc Document, filters []imagesearch.Expression) bool {
	for _, filter := range filters {
		if !evaluateExpression(doc, filter) {
			return false
		}
	}
	return true
}

// evaluateExpression evaluates a single expression against a document.
func evaluateExpression(doc Document, expr imagesearch.Expression) bool {
	switch e := expr.(type) {
	case imagesearch.AndExpr:
		for _, inner := range e.Exprs {
			if !evaluateExpression(doc, inner) {
				return false
			}
		}
		return true
	case imagesearch.OrExpr:
		for _, inner := range e.Exprs {
			if evaluateExpression(doc, inner) {
				return true
			}
		}
		return false
	case imagesearch.NotExpr:
		return !evaluateExpression(doc, e.Inner)
	case imagesearch.EqExpr:
		value, known := doc.Field(e.Field)
		return known && value == e.Value
	case imagesearch.NeExpr:
		value, known := doc.Field(e.Field)
		return !known || value != e.Value
	case imagesearch.ExistsExpr:
		value, _ := doc.Field(e.Field)
		return value != ""
	default:
		// Unknown expression type, return true to not filter out
		return true
	}
}
