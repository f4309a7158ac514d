package models

import "strings"

// BundleSlug is the slug of the archive holding every guide.
const BundleSlug = "pack-integral"

// Product is a one-time purchasable guide or the bundle.
type Product struct {
	Slug     string `json:"slug"`
	Title    string `json:"title"`
	FileName string `json:"file_name"`
	Bundle   bool   `json:"bundle"`
}

var products = []Product{
	{Slug: "introduction-to-guides", Title: "Introduction to the Psychological Guides", FileName: "Introduction to the psychological guides.pdf"},
	{Slug: "self-esteem", Title: "Self-Esteem — Psychological & Practical Guide", FileName: "Self-esteem - psychological & practical guide.pdf"},
	{Slug: "depression", Title: "Depression — Psychological & Practical Guide", FileName: "Depression - psychological & practical guide.pdf"},
	{Slug: "anxiety", Title: "Anxiety — Psychological & Practical Guide", FileName: "Anxiety - psychological & practical guide.pdf"},
	{Slug: "relationships", Title: "Romantic Relationships — Psychological & Practical Guide", FileName: "Romantical relationships - psychological & practical guide.pdf"},
	{Slug: "loneliness", Title: "Loneliness — Psychological & Practical Guide", FileName: "Solitude - psychological & practical guide.pdf"},
	{Slug: "adhd", Title: "ADHD — Psychological & Practical Guide", FileName: "ADHD - psychological & practical guide.pdf"},
	{Slug: "autism", Title: "Autism Spectrum — Psychological & Practical Guide", FileName: "Autistic spectrum disorders - psychological & practical guide.pdf"},
	{Slug: "eating-disorders", Title: "Eating Disorders — Psychological & Practical Guide", FileName: "Eating disorders - psychological & practical guide.pdf"},
	{Slug: "sleep", Title: "Sleep Disorders — Psychological & Practical Guide", FileName: "Sleep disorders - psychological & practical guide.pdf"},
	{Slug: "procrastination-creativity", Title: "Procrastination & Creativity — Psychological & Practical Guide", FileName: "Procrastination and creativity - psychological & practical guide.pdf"},
	{Slug: "giftedness", Title: "Giftedness — Psychological & Practical Guide", FileName: "High potentials - psychological & practical guide.pdf"},
	{Slug: BundleSlug, Title: "Full Pack — All Psychological Guides", FileName: "Psychological Guides - Full Pack.rar", Bundle: true},
}

// Products returns the catalog in display order.
func Products() []Product {
	out := make([]Product, len(products))
	copy(out, products)
	return out
}

// LookupProduct finds a product by slug after normalization.
func LookupProduct(slug string) (Product, bool) {
	s := NormalizeSlug(slug)
	for _, p := range products {
		if p.Slug == s {
			return p, true
		}
	}
	return Product{}, false
}

// IsBundleSlug reports whether slug refers to the bundle archive. Older
// links used several spellings, so any slug mentioning pack, bundle or
// integral counts.
func IsBundleSlug(slug string) bool {
	s := NormalizeSlug(slug)
	return strings.Contains(s, "pack") || strings.Contains(s, "bundle") || strings.Contains(s, "integral")
}

// NormalizeSlug trims and lowercases a slug for comparison.
func NormalizeSlug(slug string) string {
	return strings.ToLower(strings.TrimSpace(slug))
}

// SlugFromDescription derives a slug from a line item description:
// lowercased, whitespace runs collapsed to single hyphens.
func SlugFromDescription(desc string) string {
	return strings.Join(strings.Fields(strings.ToLower(desc)), "-")
}
