package graphql

import (
	"bytes"
	"context"
	"encoding/json"

	gql "github.com/99designs/gqlgen/graphql"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

// object is a resolved value of a GraphQL object type.
type object interface {
	typeName() string
	field(ctx context.Context, name string, args map[string]interface{}) (interface{}, error)
}

// executableSchema resolves queries against the catalog by walking the
// selection set and writing JSON in selection order.
type executableSchema struct {
	schema   *ast.Schema
	resolver *Resolver
}

func (e *executableSchema) Schema() *ast.Schema { return e.schema }

// Complexity weighs list fields by the page size they ask for.
func (e *executableSchema) Complexity(typeName, field string, childComplexity int, args map[string]interface{}) (int, bool) {
	switch {
	case typeName == "Query" && field == "products":
		return 1 + childComplexity*intArg(args, "perPage", defaultPerPage), true
	case typeName == "Category" && field == "products":
		return 1 + childComplexity*intArg(args, "limit", defaultCategoryLimit), true
	}
	return 0, false
}

func (e *executableSchema) Exec(ctx context.Context) gql.ResponseHandler {
	opCtx := gql.GetOperationContext(ctx)
	done := false
	return func(ctx context.Context) *gql.Response {
		if done {
			return nil
		}
		done = true
		if opCtx.Operation.Operation != ast.Query {
			return gql.ErrorResponse(ctx, "unsupported operation %s", opCtx.Operation.Operation)
		}
		var buf bytes.Buffer
		root := &queryRoot{r: e.resolver}
		writeObject(ctx, &buf, root, opCtx.Operation.SelectionSet, nil)
		return &gql.Response{Data: buf.Bytes()}
	}
}

func writeObject(ctx context.Context, buf *bytes.Buffer, obj object, sel ast.SelectionSet, path ast.Path) {
	opCtx := gql.GetOperationContext(ctx)
	fields := gql.CollectFields(opCtx, sel, []string{obj.typeName()})
	buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeJSON(buf, f.Alias)
		buf.WriteByte(':')
		if f.Name == "__typename" {
			writeJSON(buf, obj.typeName())
			continue
		}
		fieldPath := append(append(ast.Path{}, path...), ast.PathName(f.Alias))
		v, err := obj.field(ctx, f.Name, f.ArgumentMap(opCtx.Variables))
		if err != nil {
			gql.AddError(ctx, &gqlerror.Error{Message: err.Error(), Path: fieldPath})
			buf.WriteString("null")
			continue
		}
		writeValue(ctx, buf, v, f.Selections, fieldPath)
	}
	buf.WriteByte('}')
}

func writeValue(ctx context.Context, buf *bytes.Buffer, v interface{}, sel ast.SelectionSet, path ast.Path) {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case object:
		writeObject(ctx, buf, val, sel, path)
	case []object:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeObject(ctx, buf, item, sel, append(append(ast.Path{}, path...), ast.PathIndex(i)))
		}
		buf.WriteByte(']')
	default:
		writeJSON(buf, val)
	}
}

func writeJSON(buf *bytes.Buffer, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		buf.WriteString("null")
		return
	}
	buf.Write(b)
}

// intArg reads an Int argument; variables may arrive as json.Number or float64.
func intArg(args map[string]interface{}, name string, fallback int) int {
	switch v := args[name].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return fallback
}

func stringArg(args map[string]interface{}, name string) string {
	s, _ := args[name].(string)
	return s
}

func boolArg(args map[string]interface{}, name string) bool {
	b, _ := args[name].(bool)
	return b
}
