package credits

import (
	"fmt"
	"io"
	"math"
	"strings"

	"gopkg.in/yaml.v3"
)

// MemberLevel selects a price column.
type MemberLevel string

const (
	MemberFreeVIP   MemberLevel = "free_vip"
	MemberStandard  MemberLevel = "standard"
	MemberNormalVIP MemberLevel = "normal_vip"
	MemberProVIP    MemberLevel = "pro_vip"
)

// PricingMode selects how an item is priced.
type PricingMode string

const (
	PricingFixed          PricingMode = "fixed"
	PricingParameterBased PricingMode = "parameter_based"
)

const pricingDefaultKey = "default"

// DurationMultiplier scales a base price by duration units.
type DurationMultiplier struct {
	Enabled  bool    `yaml:"enabled" json:"enabled"`
	Unit     string  `yaml:"unit" json:"unit"`
	BaseUnit float64 `yaml:"baseUnit" json:"baseUnit"`
	RoundUp  bool    `yaml:"roundUp" json:"roundUp"`
}

// Fallback holds the price used when no table entry matches.
type Fallback struct {
	PointsRequired int64 `yaml:"pointsRequired" json:"pointsRequired"`
}

// ParameterPricing maps aspect ratio -> group ("resolution" or "default") -> value -> points.
type ParameterPricing map[string]map[string]map[string]int64

// ConsumptionItem is one priced action.
type ConsumptionItem struct {
	Name               string                           `yaml:"name" json:"name"`
	Description        string                           `yaml:"description" json:"description"`
	PricingMode        PricingMode                      `yaml:"pricingMode" json:"pricingMode"`
	Pricing            map[MemberLevel]int64            `yaml:"pricing,omitempty" json:"pricing,omitempty"`
	MemberLevelPricing map[MemberLevel]ParameterPricing `yaml:"memberLevelPricing,omitempty" json:"memberLevelPricing,omitempty"`
	DurationMultiplier *DurationMultiplier              `yaml:"durationMultiplier,omitempty" json:"durationMultiplier,omitempty"`
	Fallback           *Fallback                        `yaml:"fallback,omitempty" json:"fallback,omitempty"`
}

// ConsumptionItems is keyed by item type, e.g. "Imagen4Standard".
type ConsumptionItems map[string]ConsumptionItem

// PricingParams narrows a parameter-based price.
type PricingParams struct {
	AspectRatio string
	Resolution  string
	Duration    float64
}

// LoadConsumptionItems decodes a YAML (or JSON) pricing table.
func LoadConsumptionItems(reader io.Reader) (ConsumptionItems, error) {
	items := ConsumptionItems{}
	decoder := yaml.NewDecoder(reader)
	if err := decoder.Decode(&items); err != nil {
		if err == io.EOF {
			return ConsumptionItems{}, nil
		}
		return nil, fmt.Errorf("decode consumption items: %w", err)
	}
	for itemType, item := range items {
		switch item.PricingMode {
		case PricingFixed, PricingParameterBased:
		default:
			return nil, fmt.Errorf("consumption item %q: unknown pricing mode %q", itemType, item.PricingMode)
		}
	}
	return items, nil
}

// CreditsFor returns the points an action costs. Unknown items cost 0.
func (items ConsumptionItems) CreditsFor(itemType string, level MemberLevel, params PricingParams) int64 {
	item, ok := items[itemType]
	if !ok {
		return 0
	}
	if level == "" {
		level = MemberStandard
	}
	switch item.PricingMode {
	case PricingFixed:
		if item.Pricing != nil {
			return item.Pricing[level]
		}
	case PricingParameterBased:
		if item.MemberLevelPricing != nil {
			return item.parameterPrice(level, params)
		}
	}
	return item.fallbackPoints()
}

func (item ConsumptionItem) parameterPrice(level MemberLevel, params PricingParams) int64 {
	levelPricing, ok := item.MemberLevelPricing[level]
	if !ok {
		return item.fallbackPoints()
	}
	aspectRatio := valueOrDefault(params.AspectRatio)
	resolution := valueOrDefault(params.Resolution)

	aspectPricing, ok := levelPricing[aspectRatio]
	if !ok {
		aspectPricing, ok = levelPricing[pricingDefaultKey]
	}
	if !ok {
		return item.fallbackPoints()
	}
	resolutionPricing, ok := aspectPricing["resolution"]
	if !ok {
		resolutionPricing, ok = aspectPricing[pricingDefaultKey]
	}
	if !ok {
		return item.fallbackPoints()
	}
	basePrice := resolutionPricing[resolution]
	if basePrice == 0 {
		basePrice = resolutionPricing[pricingDefaultKey]
	}
	if basePrice == 0 {
		basePrice = item.fallbackPoints()
	}

	multiplier := item.DurationMultiplier
	if multiplier != nil && multiplier.Enabled && params.Duration > 0 && multiplier.BaseUnit > 0 {
		units := params.Duration / multiplier.BaseUnit
		if multiplier.RoundUp {
			units = math.Ceil(units)
		}
		return int64(math.Round(float64(basePrice) * units))
	}
	return basePrice
}

func (item ConsumptionItem) fallbackPoints() int64 {
	if item.Fallback == nil {
		return 0
	}
	return item.Fallback.PointsRequired
}

func valueOrDefault(value string) string {
	if strings.TrimSpace(value) == "" {
		return pricingDefaultKey
	}
	return value
}

// MapImageModel maps an image model id to its consumption item type.
func MapImageModel(modelID string) (string, bool) {
	switch {
	case strings.Contains(modelID, "imagen-4-standard"):
		return "Imagen4Standard", true
	case strings.Contains(modelID, "imagen-4-fast"):
		return "Imagen4Fast", true
	case strings.Contains(modelID, "imagen-4-ultra"):
		return "Imagen4Ultra", true
	case strings.Contains(modelID, "gemini-2.5-flash"), strings.Contains(modelID, "nano-banana"):
		return "Gemini2_5FlashImage", true
	}
	return "", false
}

// MapVideoModel maps a video model id to its consumption item type.
// Veo 3.1 ids are matched before the broader Veo 3 family.
func MapVideoModel(modelID string) (string, bool) {
	hasAudio := strings.Contains(modelID, "audio")
	if strings.Contains(modelID, "veo-3.1") || strings.Contains(modelID, "veo3.1") || strings.Contains(modelID, "veo3_1") {
		if hasAudio {
			return "Veo3_1VideoWithAudio", true
		}
		return "Veo3_1Video", true
	}
	if strings.Contains(modelID, "veo-3") || strings.Contains(modelID, "veo3") {
		switch {
		case strings.Contains(modelID, "fast") && hasAudio:
			return "Veo3FastVideoWithAudio", true
		case strings.Contains(modelID, "fast"):
			return "Veo3FastVideo", true
		case hasAudio:
			return "Veo3VideoWithAudio", true
		default:
			return "Veo3Video", true
		}
	}
	return "", false
}
