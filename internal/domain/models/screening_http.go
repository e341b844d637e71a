package models

// Requests for the screening HTTP endpoints. Defined in domain for
// consistency and reuse; conversion to ScreeningRequest stays with the
// transport that knows how to report bad input.

type ScreenRequest struct {
	AsOf            string                 `json:"as_of" validate:"required"`
	Class           string                 `json:"class" validate:"required,oneof=STOCK CRYPTO FOREX"`
	LookbackDays    int                    `json:"lookback_days" default:"60" validate:"gte=1,lte=3650"`
	Config          map[string]interface{} `json:"config,omitempty"`
	UseCache        *bool                  `json:"use_cache,omitempty"`
	CreateSnapshot  bool                   `json:"create_snapshot,omitempty"`
	RunHealthChecks bool                   `json:"run_health_checks,omitempty"`
	ValidateData    bool                   `json:"validate_data,omitempty"`
}
