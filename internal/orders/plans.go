package orders

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Plan is a purchasable product. Orders copy price and grants from it.
type Plan struct {
	Code        string `yaml:"-" json:"planCode"`
	Name        string `yaml:"name" json:"name"`
	Type        Type   `yaml:"orderType" json:"orderType"`
	AmountCents int64  `yaml:"amount" json:"amount"`
	Currency    string `yaml:"currency" json:"currency"`
	GiftPoints  int64  `yaml:"giftPoints" json:"giftPoints"`
	Days        int    `yaml:"days" json:"days"`
}

// Plans is the catalog keyed by plan code.
type Plans map[string]Plan

// LoadPlans decodes a YAML plan table and validates every entry.
func LoadPlans(reader io.Reader) (Plans, error) {
	plans := Plans{}
	if err := yaml.NewDecoder(reader).Decode(&plans); err != nil {
		if err == io.EOF {
			return Plans{}, nil
		}
		return nil, fmt.Errorf("decode plans: %w", err)
	}
	for code, plan := range plans {
		plan.Code = code
		plan.Currency = strings.ToUpper(strings.TrimSpace(plan.Currency))
		if plan.Currency == "" {
			plan.Currency = defaultCurrency
		}
		if err := plan.validate(); err != nil {
			return nil, err
		}
		plans[code] = plan
	}
	return plans, nil
}

// Lookup returns the plan for code.
func (plans Plans) Lookup(code string) (Plan, error) {
	plan, ok := plans[strings.TrimSpace(code)]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrUnknownPlan, code)
	}
	return plan, nil
}

// Sorted lists plans by type, then price.
func (plans Plans) Sorted() []Plan {
	list := make([]Plan, 0, len(plans))
	for _, plan := range plans {
		list = append(list, plan)
	}
	sort.Slice(list, func(left, right int) bool {
		if list[left].Type != list[right].Type {
			return list[left].Type < list[right].Type
		}
		if list[left].AmountCents != list[right].AmountCents {
			return list[left].AmountCents < list[right].AmountCents
		}
		return list[left].Code < list[right].Code
	})
	return list
}

func (plan Plan) validate() error {
	if plan.Type != TypeSubscription && plan.Type != TypePoints {
		return fmt.Errorf("plan %q: unknown order type %q", plan.Code, plan.Type)
	}
	if plan.AmountCents <= 0 {
		return fmt.Errorf("plan %q: amount must be positive", plan.Code)
	}
	if plan.GiftPoints < 0 || plan.Days < 0 {
		return fmt.Errorf("plan %q: gift points and days must not be negative", plan.Code)
	}
	return nil
}
