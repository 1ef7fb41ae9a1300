package graphql

import (
	"embed"
	"io/fs"
	"net/http"

	"github.com/99designs/gqlgen/graphql/handler"
	"github.com/99designs/gqlgen/graphql/handler/extension"
	"github.com/99designs/gqlgen/graphql/handler/transport"
	gqlparser "github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"

	"aurum/api/internal/db"
)

//go:embed schema/*.graphqls
var schemaFS embed.FS

const complexityLimit = 500

// NewHandler serves the catalog schema over GET and POST.
func NewHandler(d *db.DB, currency string) http.Handler {
	schema, err := loadSchema()
	if err != nil {
		panic("load schema: " + err.Error())
	}
	es := &executableSchema{
		schema:   schema,
		resolver: &Resolver{DB: d, Currency: currency},
	}
	srv := handler.New(es)
	srv.AddTransport(transport.Options{})
	srv.AddTransport(transport.GET{})
	srv.AddTransport(transport.POST{})
	srv.Use(extension.FixedComplexityLimit(complexityLimit))
	return srv
}

func loadSchema() (*ast.Schema, error) {
	body, err := fs.ReadFile(schemaFS, "schema/schema.graphqls")
	if err != nil {
		return nil, err
	}
	return gqlparser.LoadSchema(&ast.Source{Input: string(body), Name: "schema.graphqls"})
}
