package efd

// indexResponse is the filer index endpoint's payload.
type indexResponse struct {
	PageInfo pageInfo      `json:"pageInfo"`
	Filers   []filerRecord `json:"filers"`
}

type pageInfo struct {
	Page       int `json:"page"`
	NumPages   int `json:"numPages"`
	PageSize   int `json:"pageSize"`
	NumEntries int `json:"numEntries"`
}

type filerRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	State     string `json:"state"`
	Office    string `json:"office"`
	Committee string `json:"committee"`
}

// filingsResponse is the per-filer detail endpoint's payload. An empty
// results list with HTTP 200 means the filer has no filings on record.
type filingsResponse struct {
	Results []filingRecord `json:"results"`
}

type filingRecord struct {
	FilingID      string  `json:"filingId"`
	Cycle         int     `json:"cycle"`
	ReportType    string  `json:"reportType"`
	PeriodStart   string  `json:"periodStart"` // YYYY-MM-DD
	PeriodEnd     string  `json:"periodEnd"`
	Committee     string  `json:"committee"`
	Receipts      float64 `json:"receipts"`
	Disbursements float64 `json:"disbursements"`
	CashOnHand    float64 `json:"cashOnHand"`
	FiledAt       int64   `json:"filedAt"` // unix millis, source clock
}
