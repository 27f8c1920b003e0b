// Package language turns GraphQL text into query trees and back.
package language

import (
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// Directives the builder understands beyond the built-in ones.
const directives = `directive @connection(key: String, filters: [String!]) on FIELD
`

func ParseQuery(source string) (*QueryDocument, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func ParseSchema(name, source string) (*SchemaDocument, error) {
	doc, err := parser.ParseSchema(&ast.Source{Name: name, Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// LoadSchema parses and validates a schema from SDL sources, declaring
// @connection unless a source already does.
func LoadSchema(sources ...*ast.Source) (*Schema, error) {
	declared := false
	for _, src := range sources {
		doc, err := ParseSchema(src.Name, src.Input)
		if err != nil {
			return nil, err
		}
		if doc.Directives.ForName("connection") != nil {
			declared = true
		}
	}
	if !declared {
		sources = append(sources, &ast.Source{Name: "graphcache.graphql", Input: directives, BuiltIn: true})
	}
	return gqlparser.LoadSchema(sources...)
}

// MustLoadSchema is LoadSchema for schemas known to be valid.
func MustLoadSchema(sdl string) *Schema {
	schema, err := LoadSchema(&ast.Source{Name: "schema.graphql", Input: sdl})
	if err != nil {
		panic(err)
	}
	return schema
}
