package plans

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/capability"
	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/model"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type catalogFile struct {
	Plans []catalogPlan `yaml:"plans"`
}

type catalogPlan struct {
	Name                  string           `yaml:"name"`
	Rank                  int              `yaml:"rank"`
	Description           string           `yaml:"description,omitempty"`
	Audience              []string         `yaml:"audience"`
	MonthlyPrice          float64          `yaml:"monthly_price"`
	YearlyPrice           float64          `yaml:"yearly_price"`
	YearlyDiscountPercent float64          `yaml:"yearly_discount_percent"`
	Currency              string           `yaml:"currency"`
	Capabilities          []string         `yaml:"capabilities"`
	Quotas                map[string]int64 `yaml:"quotas,omitempty"`
	Unlimited             bool             `yaml:"unlimited"`
	Active                *bool            `yaml:"active"`
}

// LoadCatalog reads a catalog from path, or the built-in catalog when path is empty.
func LoadCatalog(path string, caps *capability.Registry) ([]model.Plan, error) {
	data := defaultCatalog
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read plan catalog: %w", err)
		}
		data = raw
	}
	return ParseCatalog(data, caps)
}

func ParseCatalog(data []byte, caps *capability.Registry) ([]model.Plan, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse plan catalog: %w", err)
	}
	if len(f.Plans) == 0 {
		return nil, fmt.Errorf("plan catalog is empty: %w", model.ErrValidation)
	}

	seen := map[model.PlanName]bool{}
	out := make([]model.Plan, 0, len(f.Plans))
	for _, cp := range f.Plans {
		name := model.PlanName(strings.TrimSpace(cp.Name))
		if name == "" {
			return nil, fmt.Errorf("plan without a name: %w", model.ErrValidation)
		}
		if seen[name] {
			return nil, fmt.Errorf("plan %q listed twice: %w", name, model.ErrValidation)
		}
		seen[name] = true

		p := model.Plan{
			Name:                  name,
			Rank:                  cp.Rank,
			Description:           cp.Description,
			MonthlyPrice:          cp.MonthlyPrice,
			YearlyPrice:           cp.YearlyPrice,
			YearlyDiscountPercent: cp.YearlyDiscountPercent,
			Currency:              strings.ToLower(strings.TrimSpace(cp.Currency)),
			Unlimited:             cp.Unlimited,
			Active:                cp.Active == nil || *cp.Active,
		}
		if p.Currency == "" {
			p.Currency = "usd"
		}
		for _, a := range cp.Audience {
			role := model.Role(a)
			if !role.Valid() {
				return nil, fmt.Errorf("plan %q: unknown audience role %q: %w", name, a, model.ErrValidation)
			}
			p.Audience = append(p.Audience, role)
		}
		for _, c := range cp.Capabilities {
			p.Capabilities = append(p.Capabilities, model.Capability(c))
		}
		if len(cp.Quotas) > 0 {
			p.Quotas = make(map[model.Capability]int64, len(cp.Quotas))
			for c, limit := range cp.Quotas {
				p.Quotas[model.Capability(c)] = limit
			}
		}
		if err := validatePricing(Pricing{
			MonthlyPrice:          p.MonthlyPrice,
			YearlyPrice:           p.YearlyPrice,
			YearlyDiscountPercent: p.YearlyDiscountPercent,
		}); err != nil {
			return nil, fmt.Errorf("plan %q: %w", name, err)
		}
		if err := validateFeatures(caps, p.Capabilities, p.Quotas); err != nil {
			return nil, fmt.Errorf("plan %q: %w", name, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// MarshalCatalog renders plans in the catalog file format.
func MarshalCatalog(plans []model.Plan) ([]byte, error) {
	f := catalogFile{Plans: make([]catalogPlan, 0, len(plans))}
	for _, p := range plans {
		active := p.Active
		cp := catalogPlan{
			Name:                  string(p.Name),
			Rank:                  p.Rank,
			Description:           p.Description,
			MonthlyPrice:          p.MonthlyPrice,
			YearlyPrice:           p.YearlyPrice,
			YearlyDiscountPercent: p.YearlyDiscountPercent,
			Currency:              p.Currency,
			Unlimited:             p.Unlimited,
			Active:                &active,
		}
		for _, r := range p.Audience {
			cp.Audience = append(cp.Audience, string(r))
		}
		for _, c := range p.Capabilities {
			cp.Capabilities = append(cp.Capabilities, string(c))
		}
		if len(p.Quotas) > 0 {
			cp.Quotas = make(map[string]int64, len(p.Quotas))
			for c, limit := range p.Quotas {
				cp.Quotas[string(c)] = limit
			}
		}
		f.Plans = append(f.Plans, cp)
	}
	return yaml.Marshal(f)
}
