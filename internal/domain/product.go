package domain

import (
	"strings"
	"time"
)

// ProductCategory enumerates the merchandising categories of the catalog.
type ProductCategory string

const (
	// CategoryTShirt covers short and long sleeve tees.
	CategoryTShirt ProductCategory = "tshirt"
	// CategoryKnit covers knitwear and sweaters.
	CategoryKnit ProductCategory = "knit"
	// CategoryShirt covers button-up shirts and blouses.
	CategoryShirt ProductCategory = "shirt"
	// CategoryOuter covers jackets, coats, and padded outerwear.
	CategoryOuter ProductCategory = "outer"
	// CategoryPants covers trousers, denim, and shorts.
	CategoryPants ProductCategory = "pants"
	// CategorySkirt covers skirts and dresses.
	CategorySkirt ProductCategory = "skirt"
	// CategoryAccessory covers bags, caps, and jewellery.
	CategoryAccessory ProductCategory = "accessory"
)

// Valid reports whether the category is part of the fixed enumeration.
func (c ProductCategory) Valid() bool {
	switch c {
	case CategoryTShirt, CategoryKnit, CategoryShirt, CategoryOuter,
		CategoryPants, CategorySkirt, CategoryAccessory:
		return true
	default:
		return false
	}
}

// GenerationTag segments products by the age cohort they are styled for.
type GenerationTag string

const (
	// GenerationZ targets the Z generation cohort.
	GenerationZ GenerationTag = "genZ"
	// GenerationM targets the millennial cohort.
	GenerationM GenerationTag = "genM"
	// GenerationYoungForty targets the young-forties cohort.
	GenerationYoungForty GenerationTag = "youngForty"
)

// Valid reports whether the generation tag is part of the fixed enumeration.
func (g GenerationTag) Valid() bool {
	switch g {
	case GenerationZ, GenerationM, GenerationYoungForty:
		return true
	default:
		return false
	}
}

// Size enumerates the garment sizes carried by the store.
type Size string

const (
	// SizeXS is extra small.
	SizeXS Size = "XS"
	// SizeS is small.
	SizeS Size = "S"
	// SizeM is medium.
	SizeM Size = "M"
	// SizeL is large.
	SizeL Size = "L"
	// SizeXL is extra large.
	SizeXL Size = "XL"
)

// Valid reports whether the size is a carried garment size. The empty size
// is accepted for products without size variants.
func (s Size) Valid() bool {
	switch s {
	case "", SizeXS, SizeS, SizeM, SizeL, SizeXL:
		return true
	default:
		return false
	}
}

// NormalizeSKU canonicalises a SKU for the case-insensitive uniqueness check.
func NormalizeSKU(sku string) string {
	return strings.ToUpper(strings.TrimSpace(sku))
}

// Product is a catalog record. Orders reference products by id but never
// depend on their mutable fields after creation.
type Product struct {
	ID          string
	SKU         string
	Name        string
	Price       int64
	Category    ProductCategory
	Generation  GenerationTag
	Image       string
	Description string
	Sizes       []Size
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
