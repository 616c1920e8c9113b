package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/aluiziolira/book-catalog/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS books (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL UNIQUE CHECK (length(title) > 0),
	title_folded TEXT NOT NULL DEFAULT '',
	price        REAL NOT NULL CHECK (price >= 0),
	stock        INTEGER NOT NULL CHECK (stock >= 0),
	availability TEXT NOT NULL CHECK (availability IN ('in_stock', 'out_of_stock')),
	rating       INTEGER NOT NULL CHECK (rating BETWEEN 0 AND 5),
	detail_url   TEXT NOT NULL,
	image_url    TEXT NOT NULL,
	last_updated TEXT NOT NULL,
	CHECK ((stock > 0) = (availability = 'in_stock'))
);
CREATE INDEX IF NOT EXISTS idx_books_price ON books (price);
CREATE INDEX IF NOT EXISTS idx_books_rating ON books (rating);
CREATE INDEX IF NOT EXISTS idx_books_stock ON books (stock);
`

// foldedIndex is created after migrateFoldedTitles so older databases gain
// the column first.
const foldedIndex = `CREATE INDEX IF NOT EXISTS idx_books_title_folded ON books (title_folded);`

const upsertQuery = `
INSERT INTO books (id, title, title_folded, price, stock, availability, rating, detail_url, image_url, last_updated)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (title) DO UPDATE SET
	title_folded = excluded.title_folded,
	price = excluded.price,
	stock = excluded.stock,
	availability = excluded.availability,
	rating = excluded.rating,
	detail_url = excluded.detail_url,
	image_url = excluded.image_url,
	last_updated = excluded.last_updated
RETURNING id`

const selectColumns = `id, title, price, stock, availability, rating, detail_url, image_url, last_updated`

var sortColumns = map[SortField]string{
	SortTitle:  "title",
	SortPrice:  "price",
	SortRating: "rating",
}

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// Open connects to the database at path, creating the file and schema when
// missing.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	if err := migrateFoldedTitles(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, foldedIndex); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create title index: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Upsert inserts book or overwrites the row sharing its title. The stored
// copy is normalized and stamped with the current time; the caller's value is
// left untouched.
func (s *SQLiteStore) Upsert(ctx context.Context, book *models.Book) (*models.Book, error) {
	if book == nil {
		return nil, fmt.Errorf("upsert: book is nil")
	}
	stored := *book
	stored.Title = strings.TrimSpace(stored.Title)
	if stored.Title == "" {
		return nil, fmt.Errorf("upsert: book missing title")
	}
	stored.Normalize()
	stored.LastUpdated = s.now().UTC()

	var id string
	err := s.db.QueryRowContext(ctx, upsertQuery,
		uuid.NewString(),
		stored.Title,
		foldTitle(stored.Title),
		stored.Price,
		stored.Stock,
		string(stored.Availability),
		stored.Rating,
		stored.DetailURL,
		stored.ImageURL,
		stored.LastUpdated.Format(time.RFC3339Nano),
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("upsert %q: %w", stored.Title, err)
	}
	stored.ID = id
	return &stored, nil
}

// Find returns one window of matching records and the total match count.
// A non-positive limit returns every match from offset on.
func (s *SQLiteStore) Find(ctx context.Context, filter Filter, sort Sort, offset, limit int) ([]models.Book, int, error) {
	total, err := s.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	where, args := buildWhere(filter)
	order, err := buildOrder(sort)
	if err != nil {
		return nil, 0, err
	}
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = -1
	}

	query := "SELECT " + selectColumns + " FROM books" + where + order + " LIMIT ? OFFSET ?"
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("find books: %w", err)
	}
	defer func() { _ = rows.Close() }()

	books := make([]models.Book, 0)
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, 0, err
		}
		books = append(books, *book)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate books: %w", err)
	}
	return books, total, nil
}

// Count returns the number of records matching filter.
func (s *SQLiteStore) Count(ctx context.Context, filter Filter) (int, error) {
	where, args := buildWhere(filter)
	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM books"+where, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count books: %w", err)
	}
	return total, nil
}

// FindByID looks a record up by its surrogate id.
func (s *SQLiteStore) FindByID(ctx context.Context, id string) (*models.Book, error) {
	return s.findOne(ctx, "id", id)
}

// FindByTitle looks a record up by its natural identity.
func (s *SQLiteStore) FindByTitle(ctx context.Context, title string) (*models.Book, error) {
	return s.findOne(ctx, "title", strings.TrimSpace(title))
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) findOne(ctx context.Context, column, value string) (*models.Book, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM books WHERE "+column+" = ?", value)
	book, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return book, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBook(row scanner) (*models.Book, error) {
	var (
		book         models.Book
		availability string
		lastUpdated  string
	)
	err := row.Scan(
		&book.ID,
		&book.Title,
		&book.Price,
		&book.Stock,
		&availability,
		&book.Rating,
		&book.DetailURL,
		&book.ImageURL,
		&lastUpdated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan book: %w", err)
	}
	book.Availability = models.Availability(availability)
	book.LastUpdated, err = time.Parse(time.RFC3339Nano, lastUpdated)
	if err != nil {
		return nil, fmt.Errorf("parse last_updated for %q: %w", book.Title, err)
	}
	return &book, nil
}

func buildWhere(f Filter) (string, []any) {
	if f.IsEmpty() {
		return "", nil
	}

	var (
		clauses []string
		args    []any
	)
	if f.TitleContains != "" {
		clauses = append(clauses, "instr(title_folded, ?) > 0")
		args = append(args, foldTitle(f.TitleContains))
	}
	if f.MinRating != nil {
		clauses = append(clauses, "rating >= ?")
		args = append(args, *f.MinRating)
	}
	if f.MinPrice != nil {
		clauses = append(clauses, "price >= ?")
		args = append(args, *f.MinPrice)
	}
	if f.MaxPrice != nil {
		clauses = append(clauses, "price <= ?")
		args = append(args, *f.MaxPrice)
	}
	if f.InStock != nil {
		if *f.InStock {
			clauses = append(clauses, "stock > 0")
		} else {
			clauses = append(clauses, "stock = 0")
		}
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func buildOrder(s Sort) (string, error) {
	field := s.Field
	if field == "" {
		field = SortTitle
	}
	column, ok := sortColumns[field]
	if !ok {
		return "", fmt.Errorf("unsupported sort field %q", s.Field)
	}
	direction := "ASC"
	if s.Desc {
		direction = "DESC"
	}
	return " ORDER BY " + column + " " + direction + ", id ASC", nil
}

// foldTitle lower-cases with full Unicode rules; SQLite's lower() only
// folds ASCII.
func foldTitle(title string) string {
	return strings.ToLower(title)
}

// migrateFoldedTitles adds and backfills title_folded on databases created
// before the column existed.
func migrateFoldedTitles(ctx context.Context, db *sql.DB) error {
	var present int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pragma_table_info('books') WHERE name = 'title_folded'").Scan(&present)
	if err != nil {
		return fmt.Errorf("inspect schema: %w", err)
	}
	if present == 0 {
		if _, err := db.ExecContext(ctx, "ALTER TABLE books ADD COLUMN title_folded TEXT NOT NULL DEFAULT ''"); err != nil {
			return fmt.Errorf("add title_folded: %w", err)
		}
	}

	rows, err := db.QueryContext(ctx, "SELECT id, title FROM books WHERE title_folded = ''")
	if err != nil {
		return fmt.Errorf("scan unfolded titles: %w", err)
	}
	pending := make(map[string]string)
	for rows.Next() {
		var id, title string
		if err := rows.Scan(&id, &title); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan unfolded titles: %w", err)
		}
		pending[id] = foldTitle(title)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("scan unfolded titles: %w", err)
	}

	for id, folded := range pending {
		if _, err := db.ExecContext(ctx, "UPDATE books SET title_folded = ? WHERE id = ?", folded, id); err != nil {
			return fmt.Errorf("backfill title_folded: %w", err)
		}
	}
	return nil
}
