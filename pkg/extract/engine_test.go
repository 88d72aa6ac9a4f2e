package extract

import (
	"testing"
)

var listingCascade = Cascade{
	Containers: []string{"[data-qa='product-card']", "div.product-item"},

	Title:         FieldCascade{"span.name", "h3"},
	Price:         FieldCascade{"span.price-final", "span.price"},
	OriginalPrice: FieldCascade{"span.price-strike"},
	Image:         FieldCascade{"img.thumb"},
	Link:          FieldCascade{"a.card-link", "a"},
	Rating:        FieldCascade{"span.rating"},
	Location:      FieldCascade{"span.city"},
	Sales:         FieldCascade{"span.sold"},
}

func TestExtractFirstMatchingContainerWins(t *testing.T) {
	// Both container selectors are present; the first yields plausible
	// products so the second must never be consulted.
	markup := `
	<div data-qa="product-card">
		<h3>Kemeja Flanel Pria</h3>
		<span class="price">Rp125.000</span>
		<a href="/produk/kemeja-flanel">detail</a>
	</div>
	<div class="product-item">
		<h3>Decoy Item</h3>
		<span class="price">Rp999.000</span>
		<a href="/produk/decoy">detail</a>
	</div>`

	e := NewEngine()
	products, err := e.Extract(markup, listingCascade, "https://www.example.co.id", "tokopedia")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(products) != 1 {
		t.Fatalf("got %d products, want 1", len(products))
	}
	if products[0].Title != "Kemeja Flanel Pria" {
		t.Errorf("title = %q", products[0].Title)
	}
	if products[0].Price != 125000 {
		t.Errorf("price = %v, want 125000", products[0].Price)
	}
}

func TestExtractFallsThroughEmptyContainers(t *testing.T) {
	markup := `
	<div class="product-item">
		<h3>Sepatu Lari</h3>
		<span class="price">Rp450.000</span>
		<a href="https://www.example.co.id/produk/sepatu-lari">detail</a>
	</div>`

	e := NewEngine()
	products, err := e.Extract(markup, listingCascade, "https://www.example.co.id", "bukalapak")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(products) != 1 {
		t.Fatalf("got %d products, want 1", len(products))
	}
	if products[0].Platform != "bukalapak" {
		t.Errorf("platform = %q", products[0].Platform)
	}
}

func TestExtractEmissionRule(t *testing.T) {
	// Missing title and garbage price both suppress emission; missing
	// optional fields do not.
	markup := `
	<div data-qa="product-card">
		<span class="price">Rp50.000</span>
		<a href="/p/1">no title</a>
	</div>
	<div data-qa="product-card">
		<h3>Harga Hubungi Penjual</h3>
		<span class="price">hubungi penjual</span>
		<a href="/p/2">no digits in price</a>
	</div>
	<div data-qa="product-card">
		<h3>Botol Minum 1L</h3>
		<span class="price">Rp35.000</span>
		<a href="/p/3">ok without rating or location</a>
	</div>`

	e := NewEngine()
	products, err := e.Extract(markup, listingCascade, "https://www.example.co.id", "tokopedia")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(products) != 1 {
		t.Fatalf("got %d products, want 1", len(products))
	}
	if products[0].Title != "Botol Minum 1L" {
		t.Errorf("title = %q", products[0].Title)
	}
	if products[0].Rating != 0 || products[0].Location != "" {
		t.Error("optional fields should stay zero-valued when absent")
	}
}

func TestExtractFieldsCascadeIndependently(t *testing.T) {
	// Title resolves via its first selector, price only via its second.
	markup := `
	<div data-qa="product-card">
		<span class="name">Headset Gaming</span>
		<span class="price">Rp210.000</span>
		<a class="card-link" href="/p/headset">x</a>
	</div>`

	e := NewEngine()
	products, err := e.Extract(markup, listingCascade, "https://www.example.co.id", "shopee")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(products) != 1 {
		t.Fatalf("got %d products, want 1", len(products))
	}
	if products[0].Title != "Headset Gaming" {
		t.Errorf("title = %q", products[0].Title)
	}
	if products[0].Price != 210000 {
		t.Errorf("price = %v, want 210000", products[0].Price)
	}
}

func TestExtractDiscountAndURLResolution(t *testing.T) {
	markup := `
	<div data-qa="product-card">
		<h3>Powerbank 10000mAh</h3>
		<span class="price-final">Rp80.000</span>
		<span class="price-strike">Rp100.000</span>
		<img class="thumb" src="//cdn.example.co.id/pb.jpg"/>
		<a class="card-link" href="/produk/powerbank">x</a>
	</div>`

	e := NewEngine()
	products, err := e.Extract(markup, listingCascade, "https://www.example.co.id", "lazada")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(products) != 1 {
		t.Fatalf("got %d products, want 1", len(products))
	}

	p := products[0]
	if p.OriginalPrice != 100000 {
		t.Errorf("original price = %v, want 100000", p.OriginalPrice)
	}
	if p.DiscountPercentage != 20 {
		t.Errorf("discount = %v, want 20", p.DiscountPercentage)
	}
	if p.ProductURL != "https://www.example.co.id/produk/powerbank" {
		t.Errorf("product url = %q", p.ProductURL)
	}
	if p.ImageURL != "https://cdn.example.co.id/pb.jpg" {
		t.Errorf("image url = %q", p.ImageURL)
	}
}

func TestExtractNoMatchReturnsNil(t *testing.T) {
	e := NewEngine()
	products, err := e.Extract("<html><body><p>maintenance</p></body></html>", listingCascade, "https://www.example.co.id", "blibli")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(products) != 0 {
		t.Errorf("got %d products, want 0", len(products))
	}
}
