// Package parser turns raw listing and detail pages into record fields.
package parser

import "github.com/use-agent/propintel/models"

// Parser extracts records from HTML. Implementations never fail: unparseable
// input yields an empty result.
type Parser interface {
	// ParseListingPage returns every listing linked from one results page, in
	// page order. Duplicates are filtered by the caller.
	ParseListingPage(html []byte, page int) []models.Record
	// ParseDetailPage returns the fields found on a listing's detail page.
	ParseDetailPage(html []byte) models.Fields
}
