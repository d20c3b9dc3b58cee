package models

// Requests for the report HTTP endpoints.

type ReportRequest struct {
	RunID string `param:"run_id" validate:"required,uuid"`
	Sort  string `query:"sort" default:"sharpe" validate:"oneof=strategy total_return annualized_return sharpe trades pct_profitable dangerous max_drawdown"`
	Order string `query:"order" default:"desc" validate:"oneof=asc desc"`
}

type TradesRequest struct {
	RunID    string `param:"run_id" validate:"required,uuid"`
	Strategy string `query:"strategy"`
	Limit    int    `query:"limit" default:"500" validate:"gte=1,lte=10000"`
}

type RunRequest struct {
	Symbols    []string            `json:"symbols" validate:"required,min=1,dive,required"`
	DateFrom   string              `json:"date_from"`
	DateTo     string              `json:"date_to"`
	Strategies []StrategyRunConfig `json:"strategies" validate:"required,min=1,dive"`
}

// StrategyRunConfig names a registered strategy kind, its parameters and a
// partial settings override applied on top of the portfolio defaults.
type StrategyRunConfig struct {
	Name     string             `yaml:"name" toml:"name" json:"name" validate:"required"`
	Kind     string             `yaml:"kind" toml:"kind" json:"kind" validate:"required"`
	Params   map[string]float64 `yaml:"params" toml:"params" json:"params"`
	Settings map[string]any     `yaml:"settings" toml:"settings" json:"settings,omitempty"`
}

// RunSpec is everything needed to replay one run. It travels through the job queue.
type RunSpec struct {
	RunID      string              `json:"run_id"`
	Feed       FeedOptions         `json:"feed"`
	Strategies []StrategyRunConfig `json:"strategies"`
}
