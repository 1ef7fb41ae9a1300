package graphql

import (
	"context"
	"fmt"

	"aurum/api/internal/money"
	"aurum/api/internal/repository"
)

type productPage struct {
	items   []object
	total   int
	page    int
	perPage int
}

func (p *productPage) typeName() string { return "ProductPage" }

func (p *productPage) field(_ context.Context, name string, _ map[string]interface{}) (interface{}, error) {
	switch name {
	case "items":
		return p.items, nil
	case "total":
		return p.total, nil
	case "page":
		return p.page, nil
	case "perPage":
		return p.perPage, nil
	}
	return nil, fmt.Errorf("unknown field ProductPage.%s", name)
}

type moneyModel struct {
	cents    int64
	currency string
}

func (m *moneyModel) typeName() string { return "Money" }

func (m *moneyModel) field(_ context.Context, name string, _ map[string]interface{}) (interface{}, error) {
	switch name {
	case "cents":
		return m.cents, nil
	case "amount":
		return money.String(m.cents), nil
	case "currency":
		return m.currency, nil
	case "formatted":
		return money.Format(m.cents, m.currency), nil
	}
	return nil, fmt.Errorf("unknown field Money.%s", name)
}

type productModel struct {
	root *queryRoot
	p    *repository.Product
}

func (q *queryRoot) productToModel(p *repository.Product) object {
	return &productModel{root: q, p: p}
}

func (q *queryRoot) productsToModel(list []repository.Product) []object {
	out := make([]object, 0, len(list))
	for i := range list {
		out = append(out, q.productToModel(&list[i]))
	}
	return out
}

func (m *productModel) typeName() string { return "Product" }

func (m *productModel) field(ctx context.Context, name string, _ map[string]interface{}) (interface{}, error) {
	p := m.p
	switch name {
	case "id":
		return p.ID, nil
	case "slug":
		return p.Slug, nil
	case "name":
		return p.Name, nil
	case "description":
		return p.Description, nil
	case "category":
		if p.CategorySlug == "" {
			return nil, nil
		}
		c, err := m.root.category(ctx, p.CategorySlug)
		if err != nil || c == nil {
			return nil, err
		}
		return m.root.categoryToModel(c), nil
	case "material":
		return p.Material, nil
	case "gemstone":
		if p.Gemstone == "" {
			return nil, nil
		}
		return p.Gemstone, nil
	case "price":
		return &moneyModel{cents: p.PriceCents, currency: m.root.r.Currency}, nil
	case "compareAtPrice":
		if p.CompareAtCents <= p.PriceCents {
			return nil, nil
		}
		return &moneyModel{cents: p.CompareAtCents, currency: m.root.r.Currency}, nil
	case "inStock":
		return p.Stock > 0, nil
	case "images":
		return p.Images, nil
	case "featured":
		return p.Featured, nil
	}
	return nil, fmt.Errorf("unknown field Product.%s", name)
}

type categoryModel struct {
	root *queryRoot
	c    *repository.Category
}

func (q *queryRoot) categoryToModel(c *repository.Category) object {
	return &categoryModel{root: q, c: c}
}

func (m *categoryModel) typeName() string { return "Category" }

func (m *categoryModel) field(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	switch name {
	case "id":
		return m.c.ID, nil
	case "slug":
		return m.c.Slug, nil
	case "name":
		return m.c.Name, nil
	case "description":
		return m.c.Description, nil
	case "products":
		limit := intArg(args, "limit", defaultCategoryLimit)
		if limit < 1 || limit > maxPerPage {
			return nil, fmt.Errorf("limit must be between 1 and %d", maxPerPage)
		}
		list, _, err := repository.ListProducts(ctx, m.root.r.DB, repository.ProductFilter{
			CategorySlug: m.c.Slug,
			Sort:         "newest",
			Limit:        limit,
		})
		if err != nil {
			return nil, err
		}
		return m.root.productsToModel(list), nil
	}
	return nil, fmt.Errorf("unknown field Category.%s", name)
}
