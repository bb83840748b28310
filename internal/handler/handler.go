// Package handler exposes the HTTP API: the catalog read endpoints and the
// checkout endpoint.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/veleda/stemshop/internal/domain/catalog"
	"github.com/veleda/stemshop/internal/domain/checkout"
	"github.com/veleda/stemshop/internal/identity"
)

// CheckoutService runs the order-creation pipeline.
type CheckoutService interface {
	PlaceOrder(ctx context.Context, user identity.User, req checkout.Request) (*checkout.Result, error)
}

// Handler holds the dependencies of all HTTP endpoints.
type Handler struct {
	identity *identity.Resolver
	checkout CheckoutService
	products catalog.ProductRepository
	books    catalog.BookRepository
}

// New creates a Handler.
func New(
	ident *identity.Resolver,
	svc CheckoutService,
	products catalog.ProductRepository,
	books catalog.BookRepository,
) *Handler {
	return &Handler{
		identity: ident,
		checkout: svc,
		products: products,
		books:    books,
	}
}

// Register mounts all routes on the given router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Get("/products/{id}", h.getProduct)
	r.Get("/books", h.listBooks)
	r.Get("/books/{id}", h.getBook)
	r.Post("/checkout/order", h.placeOrder)
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg})
}

func respondFieldErrors(w http.ResponseWriter, fields map[string]string) {
	respondJSON(w, http.StatusBadRequest, errorResponse{
		Error:  "validation failed",
		Fields: fields,
	})
}
