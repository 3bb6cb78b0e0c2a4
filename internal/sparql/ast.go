package sparql

import (
	"github.com/geoknoesis/rdf-go/rdf"
)

// QueryForm is the kind of result a query produces.
type QueryForm uint8

// Query forms.
const (
	FormSelect QueryForm = iota + 1
	FormAsk
	FormConstruct
	FormDescribe
)

// Node is a position in a triple pattern: either a variable or a constant term.
type Node struct {
	Var  string
	Term rdf.Term
}

// IsVar reports whether n is a variable.
func (n Node) IsVar() bool { return n.Var != "" }

func (n Node) isZero() bool { return n.Var == "" && n.Term == nil }

func varNode(name string) Node { return Node{Var: name} }

func termNode(t rdf.Term) Node { return Node{Term: t} }

// TriplePattern is a triple whose positions may be variables.
type TriplePattern struct {
	S, P, O Node
}

// QuadTemplate is a triple pattern scoped to a graph. A zero Graph is the
// default graph.
type QuadTemplate struct {
	TriplePattern
	Graph Node
}

// DatasetClause holds FROM / FROM NAMED or USING / USING NAMED IRIs.
type DatasetClause struct {
	Default []string
	Named   []string
}

// Query is a parsed SPARQL query.
type Query struct {
	Form       QueryForm
	Distinct   bool
	Reduced    bool
	Projection []Projection // empty means SELECT *
	Template   []TriplePattern
	Describe   []Node
	Dataset    *DatasetClause
	Where      *Group
	GroupBy    []Projection
	Having     []Expr
	OrderBy    []OrderCondition
	Limit      int // -1 when absent
	Offset     int

	aggregated bool
	whereVars  []string
}

// Projection is one entry of a SELECT clause or GROUP BY: a variable,
// optionally computed from an expression.
type Projection struct {
	Var  string
	Expr Expr
}

// OrderCondition is one ORDER BY key.
type OrderCondition struct {
	Expr       Expr
	Descending bool
}

// Variables returns the result variables of a SELECT query, in order.
func (q *Query) Variables() []string {
	if len(q.Projection) == 0 {
		return q.whereVars
	}
	vars := make([]string, len(q.Projection))
	for i, p := range q.Projection {
		vars[i] = p.Var
	}
	return vars
}

// Pattern is an element of a group graph pattern.
type Pattern interface {
	isPattern()
}

// Group is a group graph pattern. Filters apply to the whole group.
type Group struct {
	Elements []Pattern
	Filters  []Expr
}

// BGP is a basic graph pattern.
type BGP struct {
	Triples []TriplePattern
}

// Optional is OPTIONAL { ... }.
type Optional struct {
	Pattern *Group
}

// Minus is MINUS { ... }.
type Minus struct {
	Pattern *Group
}

// Union is { ... } UNION { ... } [UNION ...].
type Union struct {
	Alternatives []*Group
}

// GraphPattern is GRAPH name { ... }.
type GraphPattern struct {
	Name    Node
	Pattern *Group
}

// Bind is BIND(expr AS ?var).
type Bind struct {
	Expr Expr
	Var  string
}

// Values is an inline data block. A nil entry in a row is UNDEF.
type Values struct {
	Vars []string
	Rows [][]rdf.Term
}

func (*Group) isPattern()        {}
func (*BGP) isPattern()          {}
func (*Optional) isPattern()     {}
func (*Minus) isPattern()        {}
func (*Union) isPattern()        {}
func (*GraphPattern) isPattern() {}
func (*Bind) isPattern()         {}
func (*Values) isPattern()       {}

// Expr is a filter or projection expression.
type Expr interface {
	isExpr()
}

type (
	exprVar   struct{ name string }
	exprConst struct{ term rdf.Term }
	exprOp    struct {
		op   string
		args []Expr
	}
	exprCall struct {
		name string // upper-cased builtin name or function IRI
		args []Expr
	}
	exprIn struct {
		x    Expr
		list []Expr
		not  bool
	}
	exprExists struct {
		pattern *Group
		not     bool
	}
	exprAggregate struct {
		name      string
		arg       Expr // nil for COUNT(*)
		distinct  bool
		separator string
	}
)

func (exprVar) isExpr()        {}
func (exprConst) isExpr()      {}
func (exprOp) isExpr()         {}
func (exprCall) isExpr()       {}
func (exprIn) isExpr()         {}
func (exprExists) isExpr()     {}
func (*exprAggregate) isExpr() {}

// Update is a parsed SPARQL update request: operations run in order.
type Update struct {
	Operations []Operation
}

// HasDatasetClause reports whether any operation carries its own USING,
// USING NAMED or WITH clause.
func (u *Update) HasDatasetClause() bool {
	for _, op := range u.Operations {
		if m, ok := op.(*Modify); ok && (m.Using != nil || m.With != nil) {
			return true
		}
	}
	return false
}

// Operation is a single update operation.
type Operation interface {
	isOperation()
}

// InsertData is INSERT DATA { ... }.
type InsertData struct {
	Quads []QuadTemplate
}

// DeleteData is DELETE DATA { ... }.
type DeleteData struct {
	Quads []QuadTemplate
}

// Modify is [WITH g] DELETE { ... } INSERT { ... } [USING ...] WHERE { ... },
// and also DELETE WHERE { ... }.
type Modify struct {
	With   rdf.Term
	Delete []QuadTemplate
	Insert []QuadTemplate
	Using  *DatasetClause
	Where  *Group
}

// GraphRefKind selects the graphs a graph management operation applies to.
type GraphRefKind uint8

// Graph reference kinds.
const (
	RefGraph GraphRefKind = iota + 1
	RefDefault
	RefNamed
	RefAll
)

// GraphRef names the target of CLEAR, DROP, ADD, MOVE and COPY.
type GraphRef struct {
	Kind  GraphRefKind
	Graph rdf.Term // set for RefGraph
}

// Clear is CLEAR [SILENT] target.
type Clear struct {
	Target GraphRef
	Silent bool
}

// Drop is DROP [SILENT] target.
type Drop struct {
	Target GraphRef
	Silent bool
}

// Create is CREATE [SILENT] GRAPH iri.
type Create struct {
	Graph  rdf.Term
	Silent bool
}

// Transfer is ADD, MOVE or COPY between two graphs.
type Transfer struct {
	Op       string // ADD, MOVE or COPY
	From, To GraphRef
	Silent   bool
}

func (*InsertData) isOperation() {}
func (*DeleteData) isOperation() {}
func (*Modify) isOperation()     {}
func (*Clear) isOperation()      {}
func (*Drop) isOperation()       {}
func (*Create) isOperation()     {}
func (*Transfer) isOperation()   {}
