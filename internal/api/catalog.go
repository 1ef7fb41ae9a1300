package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"aurum/api/internal/money"
	"aurum/api/internal/repository"
)

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := repository.ListCategories(r.Context(), s.DB)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cats)
}

// listProducts serves GET /api/products. Prices in min_price and max_price
// are in major units ("120.50").
func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()
	page, perPage := pageParams(r, 24)
	f := repository.ProductFilter{
		CategorySlug: qs.Get("category"),
		Search:       strings.TrimSpace(qs.Get("q")),
		Material:     qs.Get("material"),
		FeaturedOnly: qs.Get("featured") == "true" || qs.Get("featured") == "1",
		Sort:         qs.Get("sort"),
		Limit:        perPage,
		Offset:       (page - 1) * perPage,
	}
	if !repository.ValidProductSort(f.Sort) {
		respondError(w, http.StatusBadRequest, "sort must be one of newest, price_asc, price_desc, name")
		return
	}
	for param, dst := range map[string]*int64{"min_price": &f.MinCents, "max_price": &f.MaxCents} {
		raw := qs.Get(param)
		if raw == "" {
			continue
		}
		cents, err := money.ParseCents(raw)
		if err != nil || cents < 0 {
			respondError(w, http.StatusBadRequest, param+" must be a non-negative amount")
			return
		}
		*dst = cents
	}

	products, total, err := repository.ListProducts(r.Context(), s.DB, f)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, pageResponse{Items: products, Total: total, Page: page, PerPage: perPage})
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := repository.ProductBySlug(r.Context(), s.DB, chi.URLParam(r, "slug"))
	if err == nil && !p.Active {
		err = repository.ErrNotFound
	}
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

type productRequest struct {
	Slug           string   `json:"slug" validate:"required,max=120"`
	Name           string   `json:"name" validate:"required,max=200"`
	Description    string   `json:"description" validate:"max=5000"`
	Category       string   `json:"category"`
	Material       string   `json:"material" validate:"required,max=60"`
	Gemstone       string   `json:"gemstone" validate:"max=60"`
	PriceCents     int64    `json:"priceCents" validate:"gt=0"`
	CompareAtCents int64    `json:"compareAtCents" validate:"min=0"`
	Stock          int      `json:"stock" validate:"min=0"`
	Images         []string `json:"images" validate:"dive,url"`
	Featured       bool     `json:"featured"`
	Active         *bool    `json:"active"`
}

func (s *Server) productFromRequest(w http.ResponseWriter, r *http.Request, p *repository.Product) bool {
	var req productRequest
	if !decode(w, r, &req) {
		return false
	}
	p.Slug = strings.ToLower(strings.TrimSpace(req.Slug))
	p.Name = strings.TrimSpace(req.Name)
	p.Description = req.Description
	p.Material = req.Material
	p.Gemstone = req.Gemstone
	p.PriceCents = req.PriceCents
	p.CompareAtCents = req.CompareAtCents
	p.Stock = req.Stock
	p.Images = req.Images
	p.Featured = req.Featured
	p.Active = req.Active == nil || *req.Active
	p.CategoryID = ""
	if req.Category != "" {
		c, err := repository.CategoryBySlug(r.Context(), s.DB, req.Category)
		if errors.Is(err, repository.ErrNotFound) {
			respondError(w, http.StatusUnprocessableEntity, "unknown category "+req.Category)
			return false
		}
		if err != nil {
			respondDomainError(w, r, err)
			return false
		}
		p.CategoryID = c.ID
	}
	return true
}

func (s *Server) adminCreateProduct(w http.ResponseWriter, r *http.Request) {
	var p repository.Product
	if !s.productFromRequest(w, r, &p) {
		return
	}
	if _, err := repository.ProductBySlug(r.Context(), s.DB, p.Slug); err == nil {
		respondError(w, http.StatusConflict, "slug already in use")
		return
	}
	if err := repository.CreateProduct(r.Context(), s.DB, &p); err != nil {
		respondDomainError(w, r, err)
		return
	}
	s.respondProduct(w, r, http.StatusCreated, p.ID)
}

func (s *Server) adminUpdateProduct(w http.ResponseWriter, r *http.Request) {
	p, err := repository.ProductByID(r.Context(), s.DB, chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	if !s.productFromRequest(w, r, p) {
		return
	}
	if other, err := repository.ProductBySlug(r.Context(), s.DB, p.Slug); err == nil && other.ID != p.ID {
		respondError(w, http.StatusConflict, "slug already in use")
		return
	}
	if err := repository.UpdateProduct(r.Context(), s.DB, p); err != nil {
		respondDomainError(w, r, err)
		return
	}
	s.respondProduct(w, r, http.StatusOK, p.ID)
}

func (s *Server) respondProduct(w http.ResponseWriter, r *http.Request, status int, id string) {
	p, err := repository.ProductByID(r.Context(), s.DB, id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, status, p)
}

func (s *Server) adminDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := repository.DeactivateProduct(r.Context(), s.DB, chi.URLParam(r, "id")); err != nil {
		respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type categoryRequest struct {
	Slug        string `json:"slug" validate:"required,max=80"`
	Name        string `json:"name" validate:"required,max=120"`
	Description string `json:"description" validate:"max=1000"`
	Position    int    `json:"position"`
}

func (s *Server) adminCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if !decode(w, r, &req) {
		return
	}
	c := repository.Category{
		Slug:        strings.ToLower(strings.TrimSpace(req.Slug)),
		Name:        req.Name,
		Description: req.Description,
		Position:    req.Position,
	}
	if _, err := repository.CategoryBySlug(r.Context(), s.DB, c.Slug); err == nil {
		respondError(w, http.StatusConflict, "slug already in use")
		return
	}
	if err := repository.CreateCategory(r.Context(), s.DB, &c); err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, c)
}
