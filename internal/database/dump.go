package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const productsCopySQL = "COPY (SELECT * FROM products) TO STDOUT WITH CSV HEADER"

// DumpFileName returns the name of the dump written at t.
func DumpFileName(t time.Time) string {
	return fmt.Sprintf("db_dump_%s.csv", t.Format("2006-01-02_15-04-05"))
}

// DumpProductsCSV streams the products table into a timestamped CSV file in
// dir and returns its path.
func (db *DB) DumpProductsCSV(ctx context.Context, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create dump directory: %w", err)
	}

	path := filepath.Join(dir, DumpFileName(time.Now()))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create dump file: %w", err)
	}

	conn, err := db.pool.Acquire(ctx)
	if err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Conn().PgConn().CopyTo(ctx, f, productsCopySQL)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to dump products: %w", err)
	}

	return path, nil
}
