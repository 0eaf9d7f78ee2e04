package constant

// Output formats accepted by the generation endpoint.
const (
	FormatDocx = "docx"
	FormatPDF  = "pdf"
	FormatJPG  = "jpg"
)

// ValidFormat reports whether format names a supported output format.
func ValidFormat(format string) bool {
	switch format {
	case FormatDocx, FormatPDF, FormatJPG:
		return true
	}
	return false
}

// Load test states persisted on a test run.
const (
	TestStatusRunning   = "running"
	TestStatusCompleted = "completed"
	TestStatusStopped   = "stopped"
	TestStatusFailed    = "failed"
)

// Load test types.
const (
	TestTypeConcurrent = "concurrent"
	TestTypeRampUp     = "ramp_up"
)
