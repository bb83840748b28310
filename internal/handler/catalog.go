package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/veleda/stemshop/internal/domain/catalog"
)

type productDTO struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Price   decimal.Decimal `json:"price"`
	InStock bool            `json:"inStock"`
}

type bookDTO struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Price     decimal.Decimal `json:"price"`
	Languages []string        `json:"languages"`
}

// GET /products
func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		zctx.From(r.Context()).Error("list products", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	respondJSON(w, http.StatusOK, lo.Map(products, func(p catalog.Product, _ int) productDTO {
		return productDTO{
			ID:      p.ID.String(),
			Name:    p.Name,
			Price:   p.Price,
			InStock: p.StockQuantity > 0,
		}
	}))
}

// GET /products/{id}
func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	p, err := h.products.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			respondError(w, http.StatusNotFound, "product not found")
			return
		}
		zctx.From(r.Context()).Error("get product", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	respondJSON(w, http.StatusOK, productDTO{
		ID:      p.ID.String(),
		Name:    p.Name,
		Price:   p.Price,
		InStock: p.StockQuantity > 0,
	})
}

// GET /books
func (h *Handler) listBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.books.List(r.Context())
	if err != nil {
		zctx.From(r.Context()).Error("list books", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	respondJSON(w, http.StatusOK, lo.Map(books, func(b catalog.Book, _ int) bookDTO {
		return bookDTO{
			ID:        b.ID.String(),
			Title:     b.Title,
			Price:     b.Price,
			Languages: b.Languages,
		}
	}))
}

// GET /books/{id}
func (h *Handler) getBook(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid book id")
		return
	}

	b, err := h.books.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			respondError(w, http.StatusNotFound, "book not found")
			return
		}
		zctx.From(r.Context()).Error("get book", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	respondJSON(w, http.StatusOK, bookDTO{
		ID:        b.ID.String(),
		Title:     b.Title,
		Price:     b.Price,
		Languages: b.Languages,
	})
}
