package sandbox

// AST node types for the transform language. Every node keeps its source
// position so both the validator and the interpreter can report locations.

type node interface{ nodePos() Pos }

type stmt interface{ node }

type expr interface{ node }

// --- statements ---

type assignStmt struct {
	target expr // identExpr, fieldExpr or indexExpr
	value  expr
	pos    Pos
}

type exprStmt struct {
	x   expr
	pos Pos
}

type ifStmt struct {
	cond expr
	then []stmt
	alt  []stmt // nil when no else branch; a nested ifStmt models else-if
	pos  Pos
}

type forStmt struct {
	loopVar string
	iter    expr
	body    []stmt
	pos     Pos
}

func (s *assignStmt) nodePos() Pos { return s.pos }
func (s *exprStmt) nodePos() Pos   { return s.pos }
func (s *ifStmt) nodePos() Pos     { return s.pos }
func (s *forStmt) nodePos() Pos    { return s.pos }

// --- expressions ---

type numberLit struct {
	val float64
	pos Pos
}

type stringLit struct {
	val string
	pos Pos
}

type boolLit struct {
	val bool
	pos Pos
}

type nullLit struct {
	pos Pos
}

type listLit struct {
	elems []expr
	pos   Pos
}

type recordLit struct {
	keys []string
	vals []expr
	pos  Pos
}

type identExpr struct {
	name string
	pos  Pos
}

type fieldExpr struct {
	base  expr
	field string
	pos   Pos // position of the field name
}

type indexExpr struct {
	base  expr
	index expr
	pos   Pos
}

type callExpr struct {
	fn   expr // identExpr or fieldExpr (math namespace)
	args []expr
	pos  Pos
}

type unaryExpr struct {
	op  tokenKind // tokMinus or tokBang
	x   expr
	pos Pos
}

type binaryExpr struct {
	op  tokenKind
	lhs expr
	rhs expr
	pos Pos
}

func (e *numberLit) nodePos() Pos  { return e.pos }
func (e *stringLit) nodePos() Pos  { return e.pos }
func (e *boolLit) nodePos() Pos    { return e.pos }
func (e *nullLit) nodePos() Pos    { return e.pos }
func (e *listLit) nodePos() Pos    { return e.pos }
func (e *recordLit) nodePos() Pos  { return e.pos }
func (e *identExpr) nodePos() Pos  { return e.pos }
func (e *fieldExpr) nodePos() Pos  { return e.pos }
func (e *indexExpr) nodePos() Pos  { return e.pos }
func (e *callExpr) nodePos() Pos   { return e.pos }
func (e *unaryExpr) nodePos() Pos  { return e.pos }
func (e *binaryExpr) nodePos() Pos { return e.pos }

type program struct {
	stmts []stmt
}
