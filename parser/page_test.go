package parser

import (
	"strings"
	"testing"

	"github.com/aluiziolira/book-catalog/models"
)

const listingPage = `<html><body><section><ol class="row">
<li><article class="product_pod">
  <div class="image_container"><a href="a-light-in-the-attic_1000/index.html"><img src="../media/cache/2c/da/a.jpg" alt="A Light in the Attic"></a></div>
  <p class="star-rating Three"></p>
  <h3><a href="a-light-in-the-attic_1000/index.html" title="A Light in the Attic">A Light in the ...</a></h3>
  <div class="product_price">
    <p class="price_color">£51.77</p>
    <p class="instock availability"><i class="icon-ok"></i> In stock (22 available)</p>
  </div>
</article></li>
<li><article class="product_pod">
  <p class="star-rating One"></p>
  <h3><a href="no-title/index.html">untitled</a></h3>
  <p class="price_color">£10.00</p>
</article></li>
<li><article class="product_pod">
  <p class="star-rating Seven"></p>
  <h3><a href="bad-price/index.html" title="Bad Price">Bad Price</a></h3>
  <p class="price_color">free</p>
</article></li>
<li><article class="product_pod">
  <img src="../media/cache/ff/ee/b.jpg">
  <p class="star-rating Sixty"></p>
  <h3><a href="tipping-the-velvet_999/index.html" title="Tipping the Velvet">Tipping the Velvet</a></h3>
  <p class="price_color">Â£53.74</p>
  <p class="availability">Out of stock</p>
</article></li>
</ol>
<ul class="pager"><li class="next"><a href="page-3.html">next</a></li></ul>
</section></body></html>`

func TestParsePageExtractsItemsInDocumentOrder(t *testing.T) {
	page, err := ParsePage(strings.NewReader(listingPage), "https://books.toscrape.com/catalogue/page-2.html")
	if err != nil {
		t.Fatalf("parse page: %v", err)
	}

	if len(page.Books) != 2 {
		t.Fatalf("books = %d, want 2", len(page.Books))
	}
	if page.Skipped != 2 {
		t.Fatalf("skipped = %d, want 2", page.Skipped)
	}
	if page.NextURL != "https://books.toscrape.com/catalogue/page-3.html" {
		t.Fatalf("next url = %q", page.NextURL)
	}

	first := page.Books[0]
	if first.Title != "A Light in the Attic" {
		t.Fatalf("title = %q", first.Title)
	}
	if first.Price != 51.77 {
		t.Fatalf("price = %v, want 51.77", first.Price)
	}
	if first.Stock != 22 || first.Availability != models.InStock {
		t.Fatalf("stock = %d/%q, want 22/in_stock", first.Stock, first.Availability)
	}
	if first.Rating != 3 {
		t.Fatalf("rating = %d, want 3", first.Rating)
	}
	if first.DetailURL != "https://books.toscrape.com/catalogue/a-light-in-the-attic_1000/index.html" {
		t.Fatalf("detail url = %q", first.DetailURL)
	}
	if first.ImageURL != "https://books.toscrape.com/media/cache/2c/da/a.jpg" {
		t.Fatalf("image url = %q", first.ImageURL)
	}
	if first.LastUpdated.IsZero() {
		t.Fatalf("last updated should be set")
	}

	second := page.Books[1]
	if second.Title != "Tipping the Velvet" {
		t.Fatalf("second title = %q", second.Title)
	}
	if second.Stock != 0 || second.Availability != models.OutOfStock {
		t.Fatalf("second stock = %d/%q, want 0/out_of_stock", second.Stock, second.Availability)
	}
	if second.Rating != 0 {
		t.Fatalf("second rating = %d, want 0", second.Rating)
	}
}

func TestParsePageLastPage(t *testing.T) {
	markup := `<html><body><article class="product_pod">
<h3><a href="x/index.html" title="X">X</a></h3><p class="price_color">£1.00</p>
</article></body></html>`

	page, err := ParsePage(strings.NewReader(markup), "https://books.toscrape.com/")
	if err != nil {
		t.Fatalf("parse page: %v", err)
	}
	if page.HasNext() {
		t.Fatalf("expected no next page, got %q", page.NextURL)
	}
	if len(page.Books) != 1 {
		t.Fatalf("books = %d, want 1", len(page.Books))
	}
}

func TestParsePageGarbageYieldsNothing(t *testing.T) {
	page, err := ParsePage(strings.NewReader("\x00\x01 not markup at all <<<>>>"), "https://books.toscrape.com/")
	if err != nil {
		t.Fatalf("parse page: %v", err)
	}
	if len(page.Books) != 0 || page.HasNext() {
		t.Fatalf("expected empty terminal page, got %d books next=%q", len(page.Books), page.NextURL)
	}
}
