package parser

import (
	"bytes"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/use-agent/propintel/models"
)

// MaxLinksPerPage caps how many listing links one results page contributes.
const MaxLinksPerPage = 100

var (
	linkSel    = cascadia.MustCompile("a[href]")
	h1Sel      = cascadia.MustCompile("h1")
	noTextSel  = cascadia.MustCompile("script, style, noscript")
	reListing  = regexp.MustCompile(`(?i)propertyDetails|/property/`)
	reSlugBHK  = regexp.MustCompile(`(?i)(\d+)-BHK`)
	reSlugArea = regexp.MustCompile(`(?i)(\d+)-Sq-(?:ft|yrd)`)
	reSlugLoc  = regexp.MustCompile(`in-([A-Za-z-]+)&id`)

	rePrice      = regexp.MustCompile(`₹\s*([\d.,]+)\s*(Crore|Cr|Lakh|Lac)`)
	reDetailBHK  = regexp.MustCompile(`(\d+)\s*BHK`)
	reDetailArea = regexp.MustCompile(`(?i)(\d+[.,]*\d*)\s*(?:Sq\.?\s*ft|sqft|sq\.ft)`)
	reSpace      = regexp.MustCompile(`\s+`)
)

// slugTypes are matched against the URL slug in this order.
var slugTypes = []string{
	"Multistorey-Apartment",
	"Builder-Floor-Apartment",
	"Residential-House",
	"Villa",
	"Penthouse",
	"Studio-Apartment",
}

// detailTypes are matched case-insensitively against detail page text.
var detailTypes = []string{"Apartment", "Villa", "House", "Penthouse", "Studio"}

// MagicBricks parses the MagicBricks results and detail page layout.
type MagicBricks struct {
	// Origin is prepended to relative listing links, e.g.
	// "https://www.magicbricks.com".
	Origin string
	// Now stamps scraped_at. Defaults to time.Now.
	Now func() time.Time
}

// NewMagicBricks creates a parser resolving relative links against origin.
func NewMagicBricks(origin string) *MagicBricks {
	return &MagicBricks{Origin: strings.TrimRight(origin, "/"), Now: time.Now}
}

func (m *MagicBricks) now() string {
	if m.Now == nil {
		return time.Now().Format(time.RFC3339)
	}
	return m.Now().Format(time.RFC3339)
}

// ParseListingPage derives bhk, area, property type, location and a title
// from each link's URL slug.
func (m *MagicBricks) ParseListingPage(html []byte, page int) (records []models.Record) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("listing parse panicked", "page", page, "panic", r)
			records = nil
		}
	}()

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		slog.Warn("listing parse failed", "page", page, "error", err)
		return nil
	}

	stamp := m.now()
	links := 0
	doc.FindMatcher(linkSel).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" || !reListing.MatchString(href) {
			return true
		}
		links++
		records = append(records, m.listingRecord(m.absolute(href), stamp))
		return links < MaxLinksPerPage
	})
	slog.Debug("listing page parsed", "page", page, "links", links)
	return records
}

func (m *MagicBricks) absolute(href string) string {
	switch {
	case strings.HasPrefix(href, "http://"), strings.HasPrefix(href, "https://"):
		return href
	case strings.HasPrefix(href, "//"):
		return "https:" + href
	case strings.HasPrefix(href, "/"):
		return m.Origin + href
	default:
		return m.Origin + "/" + href
	}
}

func (m *MagicBricks) listingRecord(url, stamp string) models.Record {
	rec := models.NewRecord(url)
	slug := url
	if i := strings.LastIndex(url, "/"); i >= 0 {
		slug = url[i+1:]
	}

	if mt := reSlugBHK.FindStringSubmatch(slug); mt != nil {
		rec.Set(models.FieldBHK, atoi(mt[1]))
	}
	if mt := reSlugArea.FindStringSubmatch(slug); mt != nil {
		rec.Set(models.FieldAreaSqft, atoi(mt[1]))
	}
	for _, t := range slugTypes {
		if strings.Contains(slug, t) {
			rec.Set(models.FieldPropertyType, strings.ReplaceAll(t, "-", " "))
			break
		}
	}
	if mt := reSlugLoc.FindStringSubmatch(slug); mt != nil {
		rec.Set(models.FieldLocation, strings.ReplaceAll(mt[1], "-", " "))
	}

	rec.Fields[models.FieldTitle] = title(rec.Fields)
	rec.Fields[models.FieldScrapedAt] = stamp
	return rec
}

// title synthesizes "2 BHK Multistorey Apartment in Andheri West".
func title(f models.Fields) string {
	var parts []string
	if bhk, ok := f[models.FieldBHK].(int); ok {
		parts = append(parts, strconv.Itoa(bhk)+" BHK")
	}
	if t, ok := f[models.FieldPropertyType].(string); ok {
		parts = append(parts, t)
	}
	if loc, ok := f[models.FieldLocation].(string); ok {
		parts = append(parts, "in "+loc)
	}
	if len(parts) == 0 {
		return "Property Listing"
	}
	return strings.Join(parts, " ")
}

// ParseDetailPage reads price, bhk, area, property type and the heading from
// the page's visible text.
func (m *MagicBricks) ParseDetailPage(html []byte) (fields models.Fields) {
	fields = models.Fields{}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("detail parse panicked", "panic", r)
			fields = models.Fields{}
		}
	}()

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		slog.Warn("detail parse failed", "error", err)
		return fields
	}
	if h1 := doc.FindMatcher(h1Sel).First(); h1.Length() > 0 {
		if t := collapse(h1.Text()); t != "" {
			fields[models.FieldTitle] = t
		}
	}
	doc.FindMatcher(noTextSel).Remove()
	text := doc.Text()

	if mt := rePrice.FindStringSubmatch(text); mt != nil {
		if price, err := strconv.ParseFloat(strings.ReplaceAll(mt[1], ",", ""), 64); err == nil && price > 0 {
			fields[models.FieldPrice] = price
			fields[models.FieldPriceUnit] = normalizeUnit(mt[2])
		}
	}
	if mt := reDetailBHK.FindStringSubmatch(text); mt != nil {
		if bhk := atoi(mt[1]); bhk > 0 {
			fields[models.FieldBHK] = bhk
		}
	}
	if mt := reDetailArea.FindStringSubmatch(text); mt != nil {
		if area, err := strconv.ParseFloat(strings.ReplaceAll(mt[1], ",", ""), 64); err == nil && area > 0 {
			fields[models.FieldAreaSqft] = int(math.Round(area))
		}
	}
	lower := strings.ToLower(text)
	for _, t := range detailTypes {
		if strings.Contains(lower, strings.ToLower(t)) {
			fields[models.FieldPropertyType] = t
			break
		}
	}
	fields[models.FieldScrapedAt] = m.now()
	return fields
}

func normalizeUnit(u string) string {
	switch u {
	case "Crore", "Cr":
		return "Cr"
	default:
		return "Lac"
	}
}

func collapse(s string) string {
	return strings.TrimSpace(reSpace.ReplaceAllString(s, " "))
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
