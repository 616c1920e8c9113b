// Package parser extracts catalog records from listing page markup.
package parser

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/book-catalog/models"
)

const (
	productSelector = "article.product_pod"
	nextSelector    = "li.next a"
)

// Page is the outcome of extracting one listing page.
type Page struct {
	URL     string
	Books   []*models.Book
	NextURL string
	Skipped int
}

// HasNext reports whether the listing continues past this page.
func (p *Page) HasNext() bool {
	return p != nil && p.NextURL != ""
}

// ParsePage parses raw listing markup fetched from pageURL.
func ParsePage(r io.Reader, pageURL string) (*Page, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}
	return ExtractPage(doc.Selection, base), nil
}

// ExtractPage walks an already parsed document. Malformed items are skipped
// and counted; they never fail the page.
func ExtractPage(root *goquery.Selection, pageURL *url.URL) *Page {
	page := &Page{}
	if pageURL != nil {
		page.URL = pageURL.String()
	}
	now := time.Now()

	root.Find(productSelector).Each(func(i int, item *goquery.Selection) {
		book, err := extractBook(item, pageURL, now)
		if err != nil {
			page.Skipped++
			slog.Warn("skipping listing item",
				slog.String("page", page.URL),
				slog.Int("index", i),
				slog.Any("error", err),
			)
			return
		}
		page.Books = append(page.Books, book)
	})

	if href, ok := root.Find(nextSelector).First().Attr("href"); ok {
		next, err := ResolveURL(pageURL, href)
		if err != nil {
			slog.Warn("ignoring next link", slog.String("page", page.URL), slog.Any("error", err))
		} else {
			page.NextURL = next
		}
	}
	return page
}

func extractBook(item *goquery.Selection, pageURL *url.URL, now time.Time) (*models.Book, error) {
	anchor := item.Find("h3 a").First()
	title, _ := anchor.Attr("title")
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrMissingTitle
	}

	price, err := ParsePrice(item.Find("p.price_color").First().Text())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", title, err)
	}

	href, _ := anchor.Attr("href")
	detailURL, err := ResolveURL(pageURL, href)
	if err != nil {
		return nil, fmt.Errorf("%s: detail: %w", title, err)
	}

	var imageURL string
	if src, ok := item.Find("img").First().Attr("src"); ok {
		imageURL, err = ResolveURL(pageURL, src)
		if err != nil {
			return nil, fmt.Errorf("%s: image: %w", title, err)
		}
	}

	stock, availability := ParseStock(item.Find("p.availability").First().Text())
	class, _ := item.Find("p.star-rating").First().Attr("class")

	return &models.Book{
		Title:        title,
		Price:        price,
		Stock:        stock,
		Availability: availability,
		Rating:       RatingFromClass(class),
		DetailURL:    detailURL,
		ImageURL:     imageURL,
		LastUpdated:  now,
	}, nil
}
