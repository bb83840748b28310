package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veleda/stemshop/internal/domain/catalog"
)

const (
	listProductsSQL = `SELECT id, name, price, active, stock_quantity, reserved_quantity, total_sold
		FROM products WHERE active ORDER BY name`

	getProductByIDSQL = `SELECT id, name, price, active, stock_quantity, reserved_quantity, total_sold
		FROM products WHERE id = $1`

	listBooksSQL = `SELECT id, title, price, active, languages
		FROM books WHERE active ORDER BY title`

	getBookByIDSQL = `SELECT id, title, price, active, languages
		FROM books WHERE id = $1`
)

var _ catalog.ProductRepository = (*ProductRepository)(nil)

// ProductRepository implements catalog.ProductRepository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// List returns all active products ordered by name.
func (r *ProductRepository) List(ctx context.Context) ([]catalog.Product, error) {
	rows, err := r.pool.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetByID returns a single product by its identifier, active or not.
func (r *ProductRepository) GetByID(ctx context.Context, id uuid.UUID) (*catalog.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get product %s", id)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get product %s", id)
	}
	return &p, nil
}

func scanProduct(row pgx.CollectableRow) (catalog.Product, error) {
	var p catalog.Product
	err := row.Scan(
		&p.ID, &p.Name, &p.Price, &p.Active,
		&p.StockQuantity, &p.ReservedQuantity, &p.TotalSold,
	)
	return p, err
}

var _ catalog.BookRepository = (*BookRepository)(nil)

// BookRepository implements catalog.BookRepository backed by PostgreSQL.
type BookRepository struct {
	pool *pgxpool.Pool
}

// NewBookRepository returns a BookRepository that uses the given pool.
func NewBookRepository(pool *pgxpool.Pool) *BookRepository {
	return &BookRepository{pool: pool}
}

// List returns all active books ordered by title.
func (r *BookRepository) List(ctx context.Context) ([]catalog.Book, error) {
	rows, err := r.pool.Query(ctx, listBooksSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list books")
	}
	return pgx.CollectRows(rows, scanBook)
}

// GetByID returns a single book by its identifier, active or not.
func (r *BookRepository) GetByID(ctx context.Context, id uuid.UUID) (*catalog.Book, error) {
	rows, err := r.pool.Query(ctx, getBookByIDSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get book %s", id)
	}

	b, err := pgx.CollectExactlyOneRow(rows, scanBook)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get book %s", id)
	}
	return &b, nil
}

func scanBook(row pgx.CollectableRow) (catalog.Book, error) {
	var b catalog.Book
	err := row.Scan(&b.ID, &b.Title, &b.Price, &b.Active, &b.Languages)
	return b, err
}
