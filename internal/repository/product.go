package repository

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"salesbot/internal/entities"
)

const productColumns = "id, anchor, name, price_cents, stock, image_url"

type ProductRepository struct {
	db *pgxpool.Pool
}

func NewProductRepository(db *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{
		db: db,
	}
}

// FindByAnchor returns the first catalog row for anchor.
func (r *ProductRepository) FindByAnchor(ctx context.Context, anchor string) (entities.Product, error) {
	rows, err := r.db.Query(ctx,
		"SELECT "+productColumns+" FROM products WHERE lower(anchor) = $1 ORDER BY id LIMIT 1",
		strings.ToLower(strings.TrimSpace(anchor)))
	if err != nil {
		return entities.Product{}, fmt.Errorf("find product %q: %w", anchor, err)
	}
	p, err := pgx.CollectOneRow(rows, scanProduct)
	if errors.Is(err, pgx.ErrNoRows) {
		return entities.Product{}, ErrProductNotFound
	}
	if err != nil {
		return entities.Product{}, fmt.Errorf("find product %q: %w", anchor, err)
	}
	return p, nil
}

// List returns the whole catalog ordered by anchor.
func (r *ProductRepository) List(ctx context.Context) ([]entities.Product, error) {
	rows, err := r.db.Query(ctx, "SELECT "+productColumns+" FROM products ORDER BY anchor, id")
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("scan products: %w", err)
	}
	return products, nil
}

// ImportCSV loads products from r in one transaction. The file carries a
// header row with anchor, name, price_cents, stock and an optional image_url.
// canonical maps the anchor column onto the vocabulary; rows it rejects
// abort the import. With replace the table is emptied first.
func (r *ProductRepository) ImportCSV(ctx context.Context, src io.Reader, canonical func(string) (string, bool), replace bool) (int, error) {
	products, err := ParseProductsCSV(src, canonical)
	if err != nil {
		return 0, err
	}

	err = pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if replace {
			if _, err := tx.Exec(ctx, "DELETE FROM products"); err != nil {
				return fmt.Errorf("clear products: %w", err)
			}
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"products"},
			[]string{"anchor", "name", "price_cents", "stock", "image_url"},
			pgx.CopyFromSlice(len(products), func(i int) ([]any, error) {
				p := products[i]
				return []any{p.Anchor, p.Name, p.PriceCents, p.Stock, p.ImageURL}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("copy products: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(products), nil
}

// ParseProductsCSV validates a catalog file without touching the database.
func ParseProductsCSV(src io.Reader, canonical func(string) (string, bool)) ([]entities.Product, error) {
	reader := csv.NewReader(src)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, required := range []string{"anchor", "name", "price_cents", "stock"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("CSV header lacks %q column", required)
		}
	}

	field := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var products []entities.Product
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV: %w", err)
		}

		anchor, ok := canonical(field(rec, "anchor"))
		if !ok {
			return nil, fmt.Errorf("line %d: unknown anchor %q", line, field(rec, "anchor"))
		}
		price, err := strconv.Atoi(field(rec, "price_cents"))
		if err != nil || price < 0 {
			return nil, fmt.Errorf("line %d: invalid price_cents %q", line, field(rec, "price_cents"))
		}
		stock, err := strconv.Atoi(field(rec, "stock"))
		if err != nil || stock < 0 {
			return nil, fmt.Errorf("line %d: invalid stock %q", line, field(rec, "stock"))
		}
		name := field(rec, "name")
		if name == "" {
			return nil, fmt.Errorf("line %d: empty name", line)
		}

		p := entities.Product{Anchor: anchor, Name: name, PriceCents: price, Stock: stock}
		if img := field(rec, "image_url"); img != "" {
			p.ImageURL = &img
		}
		products = append(products, p)
	}
	return products, nil
}

func scanProduct(row pgx.CollectableRow) (entities.Product, error) {
	var p entities.Product
	err := row.Scan(&p.ID, &p.Anchor, &p.Name, &p.PriceCents, &p.Stock, &p.ImageURL)
	return p, err
}
