package models

import "time"

// MinScreeningDate is the earliest point-in-time a screening may target.
var MinScreeningDate = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

// DefaultLookbackDays is the market-data window pulled for filter stages.
const DefaultLookbackDays = 60

// ScreeningRequest describes one point-in-time screening run.
// Note: no transport (json/http) concerns here.
type ScreeningRequest struct {
	AsOf         time.Time
	Class        AssetClass
	LookbackDays int

	// Config carries per-class stage overrides applied on top of the
	// registered filter configuration for this run.
	Config map[string]interface{}

	UseCache        bool
	CreateSnapshot  bool
	RunHealthChecks bool
	ValidateData    bool
}

// LookbackStart returns the inclusive start of the market-data window.
func (r ScreeningRequest) LookbackStart() time.Time {
	days := r.LookbackDays
	if days <= 0 {
		days = DefaultLookbackDays
	}
	return r.AsOf.AddDate(0, 0, -days)
}
