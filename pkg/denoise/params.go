package denoise

import (
	"fmt"
	"math"
	"strings"
)

// MaskReduction selects how per-bin suppression gains are reduced inside a band.
type MaskReduction int

const (
	MaskReductionNone MaskReduction = iota
	MaskReductionMax
	MaskReductionMean
)

// String returns the lowercase mode name.
func (m MaskReduction) String() string {
	switch m {
	case MaskReductionMax:
		return "max"
	case MaskReductionMean:
		return "mean"
	default:
		return "none"
	}
}

// MaskReductionFromInt maps the host's integer mode (0 none, 1 max, 2 mean).
// Unknown values fall back to none.
func MaskReductionFromInt(mode int) MaskReduction {
	switch MaskReduction(mode) {
	case MaskReductionMax:
		return MaskReductionMax
	case MaskReductionMean:
		return MaskReductionMean
	default:
		return MaskReductionNone
	}
}

// ParseMaskReduction accepts "none", "max", "mean" or their integer forms.
func ParseMaskReduction(raw string) (MaskReduction, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "none", "0", "":
		return MaskReductionNone, nil
	case "max", "1":
		return MaskReductionMax, nil
	case "mean", "2":
		return MaskReductionMean, nil
	default:
		return MaskReductionNone, fmt.Errorf("unknown mask reduction mode %q", raw)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m MaskReduction) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *MaskReduction) UnmarshalText(text []byte) error {
	mode, err := ParseMaskReduction(string(text))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// SuppressionParams are the live-tunable suppression settings.
// A Worker captures one value at start and never observes later writes.
type SuppressionParams struct {
	AttenLimitDB   float64       `json:"atten_lim_db" mapstructure:"atten_lim_db" yaml:"atten_lim_db"`
	MinDBThresh    float64       `json:"min_db_thresh" mapstructure:"min_db_thresh" yaml:"min_db_thresh"`
	MaxDBErbThresh float64       `json:"max_db_erb_thresh" mapstructure:"max_db_erb_thresh" yaml:"max_db_erb_thresh"`
	MaxDBDfThresh  float64       `json:"max_db_df_thresh" mapstructure:"max_db_df_thresh" yaml:"max_db_df_thresh"`
	PostFilterBeta float64       `json:"post_filter_beta" mapstructure:"post_filter_beta" yaml:"post_filter_beta"`
	MaskReduction  MaskReduction `json:"reduce_mask" mapstructure:"reduce_mask" yaml:"reduce_mask"`
}

// DefaultParams returns the stock suppression settings.
func DefaultParams() SuppressionParams {
	return SuppressionParams{
		AttenLimitDB:   100,
		MinDBThresh:    -10,
		MaxDBErbThresh: 30,
		MaxDBDfThresh:  20,
		PostFilterBeta: 0.02,
		MaskReduction:  MaskReductionMean,
	}
}

// Sanitize clamps every field to its legal domain. Attenuation is taken as a
// magnitude, post-filter strength is floored at zero and NaN fields reset to
// their defaults.
func (p SuppressionParams) Sanitize() SuppressionParams {
	def := DefaultParams()
	out := p
	out.AttenLimitDB = math.Abs(finiteOr(p.AttenLimitDB, def.AttenLimitDB))
	out.MinDBThresh = finiteOr(p.MinDBThresh, def.MinDBThresh)
	out.MaxDBErbThresh = finiteOr(p.MaxDBErbThresh, def.MaxDBErbThresh)
	out.MaxDBDfThresh = finiteOr(p.MaxDBDfThresh, def.MaxDBDfThresh)
	out.PostFilterBeta = math.Max(0, finiteOr(p.PostFilterBeta, def.PostFilterBeta))
	out.MaskReduction = MaskReductionFromInt(int(p.MaskReduction))
	return out
}

func finiteOr(value float64, fallback float64) float64 {
	if math.IsNaN(value) {
		return fallback
	}
	return value
}

// ParamsPatch is a partial update. Nil fields keep their current value.
type ParamsPatch struct {
	AttenLimitDB   *float64       `json:"atten_lim_db,omitempty"`
	MinDBThresh    *float64       `json:"min_db_thresh,omitempty"`
	MaxDBErbThresh *float64       `json:"max_db_erb_thresh,omitempty"`
	MaxDBDfThresh  *float64       `json:"max_db_df_thresh,omitempty"`
	PostFilterBeta *float64       `json:"post_filter_beta,omitempty"`
	MaskReduction  *MaskReduction `json:"reduce_mask,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p ParamsPatch) Empty() bool {
	return p == ParamsPatch{}
}

// Apply copies every set field onto dst.
func (p ParamsPatch) Apply(dst *SuppressionParams) {
	if p.AttenLimitDB != nil {
		dst.AttenLimitDB = *p.AttenLimitDB
	}
	if p.MinDBThresh != nil {
		dst.MinDBThresh = *p.MinDBThresh
	}
	if p.MaxDBErbThresh != nil {
		dst.MaxDBErbThresh = *p.MaxDBErbThresh
	}
	if p.MaxDBDfThresh != nil {
		dst.MaxDBDfThresh = *p.MaxDBDfThresh
	}
	if p.PostFilterBeta != nil {
		dst.PostFilterBeta = *p.PostFilterBeta
	}
	if p.MaskReduction != nil {
		dst.MaskReduction = *p.MaskReduction
	}
}
