package parser

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/aluiziolira/book-catalog/models"
)

var (
	// ErrMissingTitle is returned when a listing item has no title attribute.
	ErrMissingTitle = errors.New("parser: missing title")
	// ErrInvalidPrice is returned when the price text is not a non-negative number.
	ErrInvalidPrice = errors.New("parser: invalid price")
	// ErrInvalidURL is returned when a reference cannot be made absolute.
	ErrInvalidURL = errors.New("parser: invalid url")
)

// inStockPhrase marks a listing as available in the source markup.
const inStockPhrase = "In stock"

var (
	priceReplacer = strings.NewReplacer("Â£", "", "£", "", "$", "", "€", "")
	stockCount    = regexp.MustCompile(`\d+`)
)

var ratingWords = map[string]int{
	"One":   1,
	"Two":   2,
	"Three": 3,
	"Four":  4,
	"Five":  5,
}

// ValidateBook ensures the extractor produced a storable record.
func ValidateBook(b *models.Book) error {
	if b == nil {
		return fmt.Errorf("book is nil")
	}
	if strings.TrimSpace(b.Title) == "" {
		return fmt.Errorf("book missing title")
	}
	if b.Price < 0 || math.IsNaN(b.Price) || math.IsInf(b.Price, 0) {
		return fmt.Errorf("book %q has invalid price %v", b.Title, b.Price)
	}
	if b.Stock < 0 {
		return fmt.Errorf("book %q has negative stock %d", b.Title, b.Stock)
	}
	if b.Rating < 0 || b.Rating > models.MaxRating {
		return fmt.Errorf("book %q has rating %d outside [0,%d]", b.Title, b.Rating, models.MaxRating)
	}
	if !isAbsolute(b.DetailURL) {
		return fmt.Errorf("book %q has non-absolute detail url %q", b.Title, b.DetailURL)
	}
	if b.ImageURL != "" && !isAbsolute(b.ImageURL) {
		return fmt.Errorf("book %q has non-absolute image url %q", b.Title, b.ImageURL)
	}
	return nil
}

// NormalizePrice removes currency glyphs and surrounding whitespace.
func NormalizePrice(price string) string {
	return strings.TrimSpace(priceReplacer.Replace(strings.TrimSpace(price)))
}

// ParsePrice converts listing price text such as "£51.77" to a number.
func ParsePrice(text string) (float64, error) {
	cleaned := NormalizePrice(text)
	if cleaned == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidPrice)
	}
	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPrice, text)
	}
	if value < 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPrice, text)
	}
	return value, nil
}

// ParseStock reads the availability text. Without the in-stock phrase the
// book is out of stock. With it, the first embedded integer is the count; a
// listing that omits the count still has at least one unit.
func ParseStock(text string) (int, models.Availability) {
	text = strings.TrimSpace(text)
	if !strings.Contains(text, inStockPhrase) {
		return 0, models.OutOfStock
	}
	match := stockCount.FindString(text)
	if match == "" {
		return 1, models.InStock
	}
	count, err := strconv.Atoi(match)
	if err != nil || count <= 0 {
		return 0, models.OutOfStock
	}
	return count, models.InStock
}

// RatingToNumeric converts a star-rating word to a numeric scale. Unknown
// words map to 0.
func RatingToNumeric(rating string) int {
	return ratingWords[strings.TrimSpace(rating)]
}

// RatingFromClass maps a class attribute such as "star-rating Three" to 3.
func RatingFromClass(class string) int {
	for _, token := range strings.Fields(class) {
		if value := RatingToNumeric(token); value > 0 {
			return value
		}
	}
	return 0
}

// ResolveURL makes ref absolute against base.
func ResolveURL(base *url.URL, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("%w: empty reference", ErrInvalidURL)
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if base == nil {
		if !parsed.IsAbs() {
			return "", fmt.Errorf("%w: %q without base", ErrInvalidURL, ref)
		}
		return parsed.String(), nil
	}
	return base.ResolveReference(parsed).String(), nil
}

func isAbsolute(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.IsAbs() && u.Host != ""
}
