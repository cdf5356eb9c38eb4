package script

// Node is any parsed script AST node.
type Node interface{ node() }

// NumberLit is a numeric literal. IsInt is true when the literal had no '.'
// so the evaluator can keep it an integer instead of promoting to float.
type NumberLit struct {
	Text  string
	IsInt bool
}

// StringLit is a quoted string literal.
type StringLit struct {
	Value string
}

// Ident is a bare identifier: either a bound variable (e.g. "status" in a
// postcondition) or a blackboard key reference.
type Ident struct {
	Name string
}

// Unary is a prefix operator application.
type Unary struct {
	Op   TokenKind
	Expr Node
}

// Binary is an infix operator application.
type Binary struct {
	Op          TokenKind
	Left, Right Node
}

// Ternary is `cond ? then : else`.
type Ternary struct {
	Cond, Then, Else Node
}

// Assign is `name = expr` or a compound form (`name += expr`, etc).
type Assign struct {
	Name string
	Op   TokenKind // TokAssign, TokPlusAssign, TokMinusAssign, TokStarAssign, TokSlashAssign, TokPercentAssign
	Expr Node
}

// Sequence is `expr ; expr ; ...`, evaluating left to right and yielding
// the last expression's value.
type Sequence struct {
	Exprs []Node
}

func (NumberLit) node() {}
func (StringLit) node() {}
func (Ident) node()     {}
func (Unary) node()     {}
func (Binary) node()    {}
func (Ternary) node()   {}
func (Assign) node()    {}
func (Sequence) node()  {}
