// Package catalog holds the product and book catalogs and the resolver that
// classifies untrusted cart lines against them.
package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested catalog entity does not exist.
var ErrNotFound = errors.New("catalog entity not found")

// Product is a physical item with tracked stock.
type Product struct {
	ID               uuid.UUID
	Name             string
	Price            decimal.Decimal
	Active           bool
	StockQuantity    int
	ReservedQuantity int
	TotalSold        int
}

// Book is a digital item delivered as a download, possibly in several
// languages.
type Book struct {
	ID        uuid.UUID
	Title     string
	Price     decimal.Decimal
	Active    bool
	Languages []string
}

// ProductRepository defines read operations for the physical catalog.
type ProductRepository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Product, error)
}

// BookRepository defines read operations for the digital catalog.
type BookRepository interface {
	List(ctx context.Context) ([]Book, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Book, error)
}
