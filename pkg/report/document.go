package report

// Document is the summary file written after a validation run.
type Document struct {
	GeneratedAt  string      `json:"generated_at"`
	DecodedPath  string      `json:"decoded_path"`
	TruthPath    string      `json:"truth_path"`
	TruthMode    string      `json:"truth_mode"`
	Strategy     string      `json:"strategy"`
	ToleranceSec float64     `json:"tolerance_sec"`
	Last         int         `json:"last"`
	DecodedRows  int         `json:"decoded_rows"`
	TruthRows    int         `json:"truth_rows"`
	Summary      Summary     `json:"summary"`
	Fields       FieldReport `json:"fields"`
}
