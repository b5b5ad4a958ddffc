package imagesearch

// Expression represents a composable filter expression over image fields.
// All Expressions are SearchOptions, but not all SearchOptions are Expressions.
type Expression interface {
	SearchOption
	// expr is a marker method to distinguish expressions from other options.
	expr()
}

// baseExpr provides the expr marker method for all expression types.
type baseExpr struct{}

func (baseExpr) expr() {}

// AndExpr represents an AND combination of expressions.
type AndExpr struct {
	baseExpr
	// Exprs contains the expressions to combine with AND logic.
	Exprs []Expression
}

// Apply implements the SearchOption interface for AndExpr.
func (a AndExpr) Apply(cfg *SearchConfig) {
	cfg.Filters = append(cfg.Filters, a)
}

// And creates an AND expression combining multiple expressions.
func And(exprs ...Expression) Expression {
	return AndExpr{Exprs: exprs}
}

// OrExpr represents an OR combination of expressions.
type OrExpr struct {
	baseExpr
	// Exprs contains the expressions to combine with OR logic.
	Exprs []Expression
}

// Apply implements the SearchOption interface for OrExpr.
func (o OrExpr) Apply(cfg *SearchConfig) {
	cfg.Filters = append(cfg.Filters, o)
}

// Or creates an OR expression combining multiple expressions.
func Or(exprs ...Expression) Expression {
	return OrExpr{Exprs: exprs}
}

// NotExpr represents a NOT negation of an expression.
type NotExpr struct {
	baseExpr
	// Inner is the expression to negate.
	Inner Expression
}

// Apply implements the SearchOption interface for NotExpr.
func (n NotExpr) Apply(cfg *SearchConfig) {
	cfg.Filters = append(cfg.Filters, n)
}

// Not creates a NOT expression negating the given expression.
func Not(expr Expression) Expression {
	return NotExpr{Inner: expr}
}

// EqExpr represents an equality comparison expression.
type EqExpr struct {
	baseExpr
	// Field is the name of the field to compare.
	Field string
	// Value is the value to compare against.
	Value string
}

// Apply implements the SearchOption interface for EqExpr.
func (e EqExpr) Apply(cfg *SearchConfig) {
	cfg.Filters = append(cfg.Filters, e)
}

// Eq creates an equality comparison expression.
func Eq(field, value string) Expression {
	return EqExpr{Field: field, Value: value}
}

// NeExpr represents a not-equal comparison expression.
type NeExpr struct {
	baseExpr
	// Field is the name of the field to compare.
	Field string
	// Value is the value to compare against.
	Value string
}

// Apply implements the SearchOption interface for NeExpr.
func (n NeExpr) Apply(cfg *SearchConfig) {
	cfg.Filters = append(cfg.Filters, n)
}

// Ne creates a not-equal comparison expression.
func Ne(field, value string) Expression {
	return NeExpr{Field: field, Value: value}
}

// ExistsExpr represents a field existence check expression. An image field
// exists when it is non-empty.
type ExistsExpr struct {
	baseExpr
	// Field is the name of the field to check for existence.
	Field string
}

// Apply implements the SearchOption interface for ExistsExpr.
func (e ExistsExpr) Apply(cfg *SearchConfig) {
	cfg.Filters = append(cfg.Filters, e)
}

// Exists creates a field existence check expression.
func Exists(field string) Expression {
	return ExistsExpr{Field: field}
}

// Field names accepted by expressions.
const (
	FieldTitle     = "title"
	FieldLink      = "link"
	FieldThumbnail = "thumbnail"
	FieldSource    = "source"
	FieldLicense   = "license"
)

// Field returns the value of the named field and whether the name is known.
func (img Image) Field(name string) (string, bool) {
	switch name {
	case FieldTitle:
		return img.Title, true
	case FieldLink:
		return img.Link, true
	case FieldThumbnail:
		return img.Thumbnail, true
	case FieldSource:
		return img.Source, true
	case FieldLicense:
		return img.License, true
	default:
		return "", false
	}
}
