package language

import "github.com/vektah/gqlparser/v2/ast"

type (
	Schema         = ast.Schema
	QueryDocument  = ast.QueryDocument
	SchemaDocument = ast.SchemaDocument
)
