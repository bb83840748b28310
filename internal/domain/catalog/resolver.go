package catalog

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// deletedMarker is appended to book titles by the soft-delete flow in the
// admin surface. Lines referencing such books are dropped at resolution.
const deletedMarker = "(Deleted)"

// Kind classifies an accepted cart line.
type Kind string

const (
	KindPhysical Kind = "physical"
	KindDigital  Kind = "digital"
)

// DropReason explains why a cart line was rejected during resolution.
type DropReason string

const (
	DropNotFound DropReason = "not_found"
	DropInactive DropReason = "inactive"
	DropDeleted  DropReason = "deleted"
)

// CartLine is a single client-submitted cart entry. Nothing in it is
// trusted: the price and isBook flag are re-derived against the catalog,
// and the id may reference either catalog.
type CartLine struct {
	ID       uuid.UUID
	Name     string
	Price    decimal.Decimal
	Quantity int
	IsBook   bool
	Language string
}

// ResolvedLine is a cart line that survived resolution, bound to exactly one
// catalog entity. Product and Book are mutually exclusive.
type ResolvedLine struct {
	Line      CartLine
	Kind      Kind
	Product   *Product
	Book      *Book
	UnitPrice decimal.Decimal
}

// Name returns the authoritative display name from the catalog.
func (l ResolvedLine) Name() string {
	if l.Kind == KindDigital {
		return l.Book.Title
	}
	return l.Product.Name
}

// DroppedLine records a rejected cart line and the reason, so the response
// can tell the client which lines were silently removed from the order.
type DroppedLine struct {
	ID     uuid.UUID
	Name   string
	Reason DropReason
}

// Manifest is the full outcome of resolving a submitted cart.
type Manifest struct {
	Accepted []ResolvedLine
	Dropped  []DroppedLine
}

// Resolver classifies cart lines against the two catalogs.
type Resolver struct {
	products ProductRepository
	books    BookRepository
}

// NewResolver creates a Resolver over the given catalogs.
func NewResolver(products ProductRepository, books BookRepository) *Resolver {
	return &Resolver{products: products, books: books}
}

// Resolve classifies every cart line as physical or digital, dropping lines
// that reference deleted, missing, or inactive entities. The book catalog is
// probed first regardless of the client's isBook flag: the id space is
// shared between the catalogs upstream, so the flag cannot be trusted.
//
// Only infrastructure failures return an error; invalid lines are reported
// in the manifest and never fail the resolution.
func (r *Resolver) Resolve(ctx context.Context, lines []CartLine) (Manifest, error) {
	m := Manifest{
		Accepted: make([]ResolvedLine, 0, len(lines)),
	}

	for _, line := range lines {
		book, err := r.books.GetByID(ctx, line.ID)
		switch {
		case err == nil:
			if strings.Contains(book.Title, deletedMarker) {
				m.drop(line, DropDeleted)
				continue
			}
			if !book.Active {
				m.drop(line, DropInactive)
				continue
			}
			m.Accepted = append(m.Accepted, ResolvedLine{
				Line:      line,
				Kind:      KindDigital,
				Book:      book,
				UnitPrice: book.Price,
			})
			continue
		case !errors.Is(err, ErrNotFound):
			return Manifest{}, errors.Wrapf(err, "probe book %s", line.ID)
		}

		product, err := r.products.GetByID(ctx, line.ID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				m.drop(line, DropNotFound)
				continue
			}
			return Manifest{}, errors.Wrapf(err, "get product %s", line.ID)
		}
		if !product.Active {
			m.drop(line, DropInactive)
			continue
		}

		m.Accepted = append(m.Accepted, ResolvedLine{
			Line:      line,
			Kind:      KindPhysical,
			Product:   product,
			UnitPrice: product.Price,
		})
	}

	return m, nil
}

func (m *Manifest) drop(line CartLine, reason DropReason) {
	m.Dropped = append(m.Dropped, DroppedLine{
		ID:     line.ID,
		Name:   line.Name,
		Reason: reason,
	})
}
