// Package models defines the catalog record and crawl result types.
package models

import "time"

// Availability is the textual stock state of a book.
type Availability string

const (
	InStock    Availability = "in_stock"
	OutOfStock Availability = "out_of_stock"
)

// MaxRating is the highest star rating the source publishes.
const MaxRating = 5

// Book is one catalog entry. Title is the natural identity used for upserts;
// ID is assigned by the store on first insert and never rewritten.
type Book struct {
	ID           string       `csv:"id" json:"id"`
	Title        string       `csv:"title" json:"title"`
	Price        float64      `csv:"price" json:"price"`
	Stock        int          `csv:"stock" json:"stock"`
	Availability Availability `csv:"availability" json:"availability"`
	Rating       int          `csv:"rating" json:"rating"`
	DetailURL    string       `csv:"detail_url" json:"detailUrl"`
	ImageURL     string       `csv:"image_url" json:"imageUrl"`
	LastUpdated  time.Time    `csv:"last_updated" json:"lastUpdated"`
}

// Normalize enforces the record invariants in place. The numeric stock count
// wins over the textual availability whenever the two disagree.
func (b *Book) Normalize() {
	if b.Stock < 0 {
		b.Stock = 0
	}
	if b.Available() {
		b.Availability = InStock
	} else {
		b.Availability = OutOfStock
	}
	if b.Rating < 0 || b.Rating > MaxRating {
		b.Rating = 0
	}
	if b.Price < 0 {
		b.Price = 0
	}
}

// Available reports whether at least one unit is in stock.
func (b *Book) Available() bool {
	return b.Stock > 0
}

// StopReason explains why a crawl left the FETCHING state.
type StopReason string

const (
	StopEndOfSequence StopReason = "end_of_sequence"
	StopPageLimit     StopReason = "page_limit"
	StopCycleDetected StopReason = "cycle_detected"
	StopPageError     StopReason = "page_error"
	StopCancelled     StopReason = "cancelled"
)

// CrawlResult holds the overall result of a crawl.
type CrawlResult struct {
	Books        []*Book
	StartTime    time.Time
	EndTime      time.Time
	TotalCount   int
	SkippedCount int
	ErrorCount   int
	FailedURLs   []string
	ErrorsByType map[string]int
	RetryCount   int
	RequestCount int
	PageCount    int
	StopReason   StopReason
}

// Duration is the wall time the crawl took.
func (r *CrawlResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}
