package models

// Requests for the price data HTTP endpoints.

type CandlesRequest struct {
	Pair  string `query:"pair" json:"pair" validate:"required,alphanum,min=3,max=10"`
	TF    string `query:"tf" json:"tf" default:"1m" validate:"timeframe"`
	Start string `query:"start" json:"start" validate:"omitempty,datetime=2006-01-02"`
	End   string `query:"end" json:"end" validate:"omitempty,datetime=2006-01-02"`
	Limit int    `query:"limit" json:"limit" default:"1000" validate:"gte=1,lte=50000"`
}

type GapsRequest struct {
	Pair string `query:"pair" json:"pair" validate:"required,alphanum,min=3,max=10"`
	TF   string `query:"tf" json:"tf" default:"1m" validate:"timeframe"`
}

type CoverageRequest struct {
	Pair string `query:"pair" json:"pair" validate:"required,alphanum,min=3,max=10"`
	TF   string `query:"tf" json:"tf" default:"1m" validate:"timeframe"`
}

type UpdateHTTPRequest struct {
	Pair     string `json:"pair" validate:"required,alphanum,min=3,max=10"`
	Latest   bool   `json:"latest"`
	FillGaps bool   `json:"fill_gaps"`
	Resample bool   `json:"resample"`
	Count    int    `json:"count" validate:"gte=0,lte=100000"`
}

type BackfillRequest struct {
	Pair  string `json:"pair" validate:"required,alphanum,min=3,max=10"`
	Start string `json:"start" validate:"required,datetime=2006-01-02"`
	End   string `json:"end" validate:"required,datetime=2006-01-02"`
}
