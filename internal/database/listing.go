package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/maltedev/olx-listing-scraper/internal/models"
)

const (
	EventListingSaved = "LISTING_SAVED"
	ListingStream     = "stream:listings"
	aggregateListing  = "listing"

	uniqueViolation = "23505"
)

// ErrDuplicateListing is returned when a product with the same site id is
// already stored.
var ErrDuplicateListing = errors.New("listing already stored")

// Queryer is the statement surface shared by pgx.Tx and the pool.
type Queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ListingSavedPayload is the outbox payload announcing a stored listing.
type ListingSavedPayload struct {
	SiteID     string    `json:"site_id"`
	ProductID  int64     `json:"product_id"`
	SellerID   int64     `json:"seller_id"`
	Title      *string   `json:"title"`
	Price      *string   `json:"price"`
	ProductURL string    `json:"product_url"`
	Delivery   bool      `json:"delivery"`
	SavedAt    time.Time `json:"saved_at"`
}

// SaveListing stores the seller and product of rec in one transaction,
// together with a LISTING_SAVED outbox event.
func (db *DB) SaveListing(ctx context.Context, rec *models.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	outbox := NewOutboxRepository(db)
	err := db.Transaction(ctx, func(tx pgx.Tx) error {
		_, _, err := saveListing(ctx, tx, outbox, rec)
		return err
	})
	return classify(err, rec)
}

// saveListing inserts the seller first and references its generated id from
// the product row.
func saveListing(ctx context.Context, q Queryer, outbox *OutboxRepository, rec *models.Record) (sellerID, productID int64, err error) {
	s := rec.Seller
	err = q.QueryRow(ctx, `
		INSERT INTO sellers (
			name, phone_number, rating, registered_date,
			last_active_date, location, region
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		s.Name, s.PhoneNumber, s.Rating, s.RegisteredDate,
		s.LastActiveDate, s.Location, s.Region,
	).Scan(&sellerID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to insert seller: %w", err)
	}

	p := rec.Product
	info, err := json.Marshal(p.Attributes)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to marshal attributes: %w", err)
	}
	imageURLs := p.ImageURLs
	if imageURLs == nil {
		imageURLs = []string{}
	}

	err = q.QueryRow(ctx, `
		INSERT INTO products (
			title, price, type, is_olx_delivery, info, site_id,
			views_count, description, image_urls, product_url,
			published_date, seller_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		p.Title, p.Price, p.TypeItem, bool(p.Delivery), info, *p.SiteID,
		viewsCount(p.ViewsCount), p.Description, imageURLs, p.URL,
		p.PublishedDate, sellerID,
	).Scan(&productID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to insert product: %w", err)
	}

	payload, err := json.Marshal(ListingSavedPayload{
		SiteID:     *p.SiteID,
		ProductID:  productID,
		SellerID:   sellerID,
		Title:      p.Title,
		Price:      p.Price,
		ProductURL: p.URL,
		Delivery:   bool(p.Delivery),
		SavedAt:    time.Now().UTC(),
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	event := &OutboxEvent{
		AggregateType: aggregateListing,
		AggregateID:   *p.SiteID,
		EventType:     EventListingSaved,
		Payload:       payload,
		TargetStream:  ListingStream,
	}
	if err := outbox.InsertWithTx(ctx, q, event); err != nil {
		return 0, 0, err
	}

	return sellerID, productID, nil
}

// viewsCount converts the scraped digits to an integer column value.
func viewsCount(v *string) *int64 {
	if v == nil {
		return nil
	}
	n, err := strconv.ParseInt(*v, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

func classify(err error, rec *models.Record) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: site_id %s", ErrDuplicateListing, models.Deref(rec.Product.SiteID))
	}
	return err
}
