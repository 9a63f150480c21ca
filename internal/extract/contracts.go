package extract

import (
	"context"

	"github.com/joseph-ayodele/esg-compliance/internal/entity"
)

// DocumentLoader is Stage 1: stored PDF -> OCR document.
type DocumentLoader interface {
	Load(ctx context.Context, key string) (entity.Document, error)
}

// SupplierExtractor is Stage 2: supplier-details document -> supplier record.
type SupplierExtractor interface {
	ExtractSupplier(ctx context.Context, doc entity.Document) (entity.SupplierRecord, error)
}

// FormKeys are the supplier form fields read directly from OCR key/value pairs.
var FormKeys = []string{
	"Site Name",
	"Company Name",
	"Site contact and job title",
	"Site e-mail",
	"Site phone",
	"GPS Address",
	"Coordinates",
	"Date of Audit",
	"Audit type",
	"Audit Company Name",
	"Announced type",
}

// Critical keys after normalisation.
const (
	KeyCompanyName = "Company Name"
	KeyDateOfAudit = "Date Of Audit"
)
