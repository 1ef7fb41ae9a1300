package graphql

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"aurum/api/internal/db"
	"aurum/api/internal/repository"
)

const (
	defaultPerPage       = 24
	maxPerPage           = 100
	defaultCategoryLimit = 12
)

// Resolver carries the dependencies the catalog fields read from.
type Resolver struct {
	DB       *db.DB
	Currency string
}

// queryRoot resolves Query fields. Categories are loaded at most once per
// request and shared by every Product.category lookup.
type queryRoot struct {
	r    *Resolver
	cats map[string]*repository.Category
}

func (q *queryRoot) typeName() string { return "Query" }

func (q *queryRoot) field(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	switch name {
	case "products":
		return q.products(ctx, args)
	case "product":
		p, err := repository.ProductBySlug(ctx, q.r.DB, stringArg(args, "slug"))
		if errors.Is(err, repository.ErrNotFound) || (err == nil && !p.Active) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return q.productToModel(p), nil
	case "categories":
		cats, err := repository.ListCategories(ctx, q.r.DB)
		if err != nil {
			return nil, err
		}
		out := make([]object, 0, len(cats))
		for i := range cats {
			out = append(out, q.categoryToModel(&cats[i]))
		}
		return out, nil
	case "__schema", "__type":
		return nil, errors.New("introspection is not enabled")
	}
	return nil, fmt.Errorf("unknown field Query.%s", name)
}

func (q *queryRoot) products(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	page := intArg(args, "page", 1)
	if page < 1 {
		page = 1
	}
	perPage := intArg(args, "perPage", defaultPerPage)
	if perPage < 1 || perPage > maxPerPage {
		return nil, fmt.Errorf("perPage must be between 1 and %d", maxPerPage)
	}
	f := repository.ProductFilter{
		Sort:   strings.ToLower(stringArg(args, "sort")),
		Limit:  perPage,
		Offset: (page - 1) * perPage,
	}
	if filter, ok := args["filter"].(map[string]interface{}); ok {
		f.CategorySlug = stringArg(filter, "category")
		f.Search = strings.TrimSpace(stringArg(filter, "search"))
		f.Material = stringArg(filter, "material")
		f.MinCents = int64(intArg(filter, "minPrice", 0))
		f.MaxCents = int64(intArg(filter, "maxPrice", 0))
		f.FeaturedOnly = boolArg(filter, "featured")
	}
	products, total, err := repository.ListProducts(ctx, q.r.DB, f)
	if err != nil {
		return nil, err
	}
	return &productPage{items: q.productsToModel(products), total: total, page: page, perPage: perPage}, nil
}

func (q *queryRoot) category(ctx context.Context, slug string) (*repository.Category, error) {
	if q.cats == nil {
		cats, err := repository.ListCategories(ctx, q.r.DB)
		if err != nil {
			return nil, err
		}
		q.cats = make(map[string]*repository.Category, len(cats))
		for i := range cats {
			q.cats[cats[i].Slug] = &cats[i]
		}
	}
	return q.cats[slug], nil
}
