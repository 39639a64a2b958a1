package capability

import (
	"fmt"

	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/model"
)

const (
	Inventory          model.Capability = "inventory"
	POS                model.Capability = "pos"
	Reports            model.Capability = "reports"
	ExportReports      model.Capability = "export_reports"
	Marketplace        model.Capability = "marketplace"
	SupplierManagement model.Capability = "supplier_management"
	BulkImport         model.Capability = "bulk_import"
	MultiBranch        model.Capability = "multi_branch"
	AIInsights         model.Capability = "ai_insights"
	Prescriptions      model.Capability = "prescriptions"
	EPrescriptions     model.Capability = "e_prescriptions"
	PatientRecords     model.Capability = "patient_records"
	Appointments       model.Capability = "appointments"
	AIHealthAssistant  model.Capability = "ai_health_assistant"
	MedicineOrders     model.Capability = "medicine_orders"
	APIAccess          model.Capability = "api_access"
)

// Info describes a registered capability. Quota-bound capabilities are metered
// per tenant per calendar day; DefaultDailyLimit applies when the tenant's plan
// does not set its own quota.
type Info struct {
	Key               model.Capability `json:"key"`
	Description       string           `json:"description"`
	QuotaBound        bool             `json:"quota_bound"`
	DefaultDailyLimit int64            `json:"default_daily_limit,omitempty"`
}

// Registry is the immutable set of known capability keys.
type Registry struct {
	byKey map[model.Capability]Info
	order []model.Capability
}

func NewRegistry(infos ...Info) (*Registry, error) {
	r := &Registry{byKey: make(map[model.Capability]Info, len(infos))}
	for _, info := range infos {
		if info.Key == "" {
			return nil, fmt.Errorf("capability key is empty")
		}
		if _, dup := r.byKey[info.Key]; dup {
			return nil, fmt.Errorf("capability %q registered twice", info.Key)
		}
		if info.QuotaBound && info.DefaultDailyLimit <= 0 {
			return nil, fmt.Errorf("capability %q is quota bound without a default daily limit", info.Key)
		}
		r.byKey[info.Key] = info
		r.order = append(r.order, info.Key)
	}
	return r, nil
}

// Default returns the capability catalog of the pharmacy/clinic dashboard.
func Default() *Registry {
	r, err := NewRegistry(
		Info{Key: Inventory, Description: "Stock and batch tracking"},
		Info{Key: POS, Description: "Point of sale"},
		Info{Key: Reports, Description: "Sales and revenue dashboards"},
		Info{Key: ExportReports, Description: "CSV/PDF report export"},
		Info{Key: Marketplace, Description: "Supplier marketplace ordering"},
		Info{Key: SupplierManagement, Description: "Supplier directory and purchase orders"},
		Info{Key: BulkImport, Description: "Bulk product import"},
		Info{Key: MultiBranch, Description: "Multiple pharmacy branches"},
		Info{Key: AIInsights, Description: "Generated sales summaries", QuotaBound: true, DefaultDailyLimit: 20},
		Info{Key: Prescriptions, Description: "Prescription intake"},
		Info{Key: EPrescriptions, Description: "Electronic prescription issuing"},
		Info{Key: PatientRecords, Description: "Patient history"},
		Info{Key: Appointments, Description: "Appointment booking"},
		Info{Key: AIHealthAssistant, Description: "Generated health answers for patients", QuotaBound: true, DefaultDailyLimit: 5},
		Info{Key: MedicineOrders, Description: "Online medicine orders"},
		Info{Key: APIAccess, Description: "Programmatic API access", QuotaBound: true, DefaultDailyLimit: 1000},
	)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) Lookup(key model.Capability) (Info, bool) {
	info, ok := r.byKey[key]
	return info, ok
}

func (r *Registry) Known(key model.Capability) bool {
	_, ok := r.byKey[key]
	return ok
}

// Require returns ErrUnknownCapability for keys that were never registered.
func (r *Registry) Require(key model.Capability) (Info, error) {
	info, ok := r.byKey[key]
	if !ok {
		return Info{}, fmt.Errorf("%w: %q", model.ErrUnknownCapability, key)
	}
	return info, nil
}

// All returns capabilities in registration order.
func (r *Registry) All() []Info {
	out := make([]Info, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.byKey[k])
	}
	return out
}
