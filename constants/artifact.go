package constants

// Storage layout below a run id.
const (
	InputsDir     = "inputs"
	ConfigDir     = "config"
	ProcessingDir = "processing"
	EmailDir      = "email"
	StatusDir     = "status"

	ComplianceConfigFile = "compliance_config.yaml"
	SupplierDetailsFile  = "supplier_details.pdf"
	EmailFile            = "email.txt"
	StatusFile           = "status.txt"
	ExportFile           = "audit_records.xlsx"

	SectionPDFSuffix  = "_nc.pdf"
	SectionDataSuffix = "_nc_data.txt"

	// GradingPrefix is the top-level folder watched for reference-table CSV uploads.
	GradingPrefix = "grading"
)

// TimescaleOptions are the remediation window checkbox labels on the audit form.
var TimescaleOptions = []string{
	"30 days", "60 days", "90 days", "120 days", "180 days", "365 days", "Immediate",
}
