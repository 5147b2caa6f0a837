package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/dialogo/internal/catalog"
	"github.com/kalambet/dialogo/internal/workflow"
)

// Plan is a production plan in the demo dataset.
type Plan struct {
	Code       string `json:"code"`
	Product    string `json:"product"`
	OrgUnit    string `json:"org_unit"`
	WorkCenter string `json:"work_center"`
	Status     string `json:"status"`
	Priority   string `json:"priority"`
	DelayDays  int    `json:"delay_days,omitempty"`
	DueDate    string `json:"due_date"`
}

// Order is a customer order in the demo dataset.
type Order struct {
	Code     string `json:"code"`
	Customer string `json:"customer"`
	Plan     string `json:"plan,omitempty"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
	DueDate  string `json:"due_date"`
}

// Material is a stocked material in the demo dataset.
type Material struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	OnHand      int    `json:"on_hand"`
	Required    int    `json:"required"`
	WorkCenter  string `json:"work_center"`
}

// WorkCenter is a production resource in the demo dataset.
type WorkCenter struct {
	Code          string  `json:"code"`
	Name          string  `json:"name"`
	OrgUnit       string  `json:"org_unit"`
	CapacityHours float64 `json:"capacity_hours"`
	LoadHours     float64 `json:"load_hours"`
}

// Demo is a small read-only planning dataset that serves every domain
// intent of the default catalog. It stands in for the domain service when no
// tools endpoint is configured.
type Demo struct {
	Plans       []Plan
	Orders      []Order
	Materials   []Material
	WorkCenters []WorkCenter
	Strategies  []workflow.Option
}

// NewDemo returns the demo dataset.
func NewDemo() *Demo {
	return &Demo{
		Plans: []Plan{
			{Code: "PL-1001", Product: "Gearbox housing", OrgUnit: "MI01", WorkCenter: "WC-10", Status: "delayed", Priority: "high", DelayDays: 3, DueDate: "2026-10-20"},
			{Code: "PL-1002", Product: "Drive shaft", OrgUnit: "MI01", WorkCenter: "WC-20", Status: "released", Priority: "medium", DueDate: "2026-10-28"},
			{Code: "PL-1003", Product: "Pump cover", OrgUnit: "TO02", WorkCenter: "WC-10", Status: "delayed", Priority: "low", DelayDays: 5, DueDate: "2026-10-15"},
			{Code: "PL-1004", Product: "Valve body", OrgUnit: "TO02", WorkCenter: "WC-30", Status: "completed", Priority: "medium", DueDate: "2026-10-10"},
		},
		Orders: []Order{
			{Code: "OR-5001", Customer: "C-0042", Plan: "PL-1001", Status: "open", Priority: "high", DueDate: "2026-10-22"},
			{Code: "OR-5002", Customer: "C-0077", Plan: "PL-1002", Status: "open", Priority: "medium", DueDate: "2026-10-30"},
			{Code: "OR-5003", Customer: "C-0042", Plan: "PL-1004", Status: "closed", Priority: "medium", DueDate: "2026-10-12"},
		},
		Materials: []Material{
			{Code: "MAT-4410", Description: "Steel sheet 3mm", OnHand: 120, Required: 200, WorkCenter: "WC-10"},
			{Code: "MAT-4420", Description: "Bolt M8", OnHand: 5000, Required: 1200, WorkCenter: "WC-20"},
			{Code: "MAT-4430", Description: "Gasket 40mm", OnHand: 0, Required: 300, WorkCenter: "WC-30"},
		},
		WorkCenters: []WorkCenter{
			{Code: "WC-10", Name: "Laser cutting", OrgUnit: "MI01", CapacityHours: 80, LoadHours: 92},
			{Code: "WC-20", Name: "Assembly", OrgUnit: "MI01", CapacityHours: 120, LoadHours: 70},
			{Code: "WC-30", Name: "Painting", OrgUnit: "TO02", CapacityHours: 60, LoadHours: 30},
		},
		Strategies: []workflow.Option{
			{ID: "overtime", Label: "Schedule overtime on the bottleneck work center", Score: 0.82},
			{ID: "split_batch", Label: "Split the batch and ship a partial quantity", Score: 0.74},
			{ID: "move_work_center", Label: "Move operations to an alternative work center", Score: 0.61},
		},
	}
}

// Register binds every domain intent served by the dataset.
func (d *Demo) Register(r *Registry) {
	r.Register("show_delayed_plans", ToolFunc(d.showDelayedPlans))
	r.Register("plan_status", ToolFunc(d.planStatus))
	r.Register("plan_details", ToolFunc(d.planDetails))
	r.Register("filter_plans", ToolFunc(d.filterPlans))
	r.Register("suggest_recovery_strategy", ToolFunc(d.suggestRecovery))
	r.Register("apply_recovery_strategy", ToolFunc(d.applyRecovery))
	r.Register("list_open_orders", ToolFunc(d.listOpenOrders))
	r.Register("order_status", ToolFunc(d.orderStatus))
	r.Register("material_availability", ToolFunc(d.materialAvailability))
	r.Register("material_shortages", ToolFunc(d.materialShortages))
	r.Register("capacity_overview", ToolFunc(d.capacityOverview))
	r.Register("work_center_load", ToolFunc(d.workCenterLoad))
}

// Intents lists the intents Register binds.
func (d *Demo) Intents() []catalog.IntentID {
	return []catalog.IntentID{
		"show_delayed_plans", "plan_status", "plan_details", "filter_plans",
		"suggest_recovery_strategy", "apply_recovery_strategy",
		"list_open_orders", "order_status",
		"material_availability", "material_shortages",
		"capacity_overview", "work_center_load",
	}
}

func (d *Demo) plan(code string) (Plan, bool) {
	for _, p := range d.Plans {
		if strings.EqualFold(p.Code, code) {
			return p, true
		}
	}
	return Plan{}, false
}

func match(want, got string) bool {
	return want == "" || strings.EqualFold(want, got)
}

func (d *Demo) selectPlans(slots map[string]string) []Plan {
	var out []Plan
	for _, p := range d.Plans {
		if match(slots["status"], p.Status) && match(slots["priority"], p.Priority) &&
			match(slots["org_unit"], p.OrgUnit) && match(slots["work_center"], p.WorkCenter) {
			out = append(out, p)
		}
	}
	return out
}

func planList(header string, plans []Plan) (Output, error) {
	var b strings.Builder
	b.WriteString(header)
	for i, p := range plans {
		fmt.Fprintf(&b, "\n%d. %s %s (%s, %s)", i+1, p.Code, p.Product, p.WorkCenter, p.Status)
		if p.DelayDays > 0 {
			fmt.Fprintf(&b, ", %d days late", p.DelayDays)
		}
	}
	detail, err := json.Marshal(plans)
	if err != nil {
		return Output{}, fmt.Errorf("encoding plan details: %w", err)
	}
	b.WriteString("\nWould you like the details?")
	return Output{FormattedResponse: b.String(), DetailContext: detail, Fields: map[string]any{"count": len(plans)}}, nil
}

func (d *Demo) showDelayedPlans(_ context.Context, req Request) (Output, error) {
	slots := map[string]string{
		"status":      "delayed",
		"org_unit":    req.Slots["org_unit"],
		"work_center": req.Slots["work_center"],
	}
	plans := d.selectPlans(slots)
	if len(plans) == 0 {
		return Output{FormattedResponse: "No plans are behind schedule."}, nil
	}
	return planList(fmt.Sprintf("%d plans are behind schedule:", len(plans)), plans)
}

func (d *Demo) filterPlans(_ context.Context, req Request) (Output, error) {
	plans := d.selectPlans(req.Slots)
	if len(plans) == 0 {
		return Output{FormattedResponse: "No plans match these filters. Say \"reset\" to start over or \"done\" to stop."}, nil
	}
	out, err := planList(fmt.Sprintf("%d plans match:", len(plans)), plans)
	if err != nil {
		return Output{}, err
	}
	out.FormattedResponse += " You can add another filter or say \"done\"."
	return out, nil
}

func (d *Demo) planStatus(_ context.Context, req Request) (Output, error) {
	p, ok := d.plan(req.Slots["plan_code"])
	if !ok {
		return Output{Error: fmt.Sprintf("plan %s not found", req.Slots["plan_code"])}, nil
	}
	return Output{Fields: map[string]any{"plan": p}}, nil
}

func (d *Demo) planDetails(_ context.Context, req Request) (Output, error) {
	p, ok := d.plan(req.Slots["plan_code"])
	if !ok {
		return Output{Error: fmt.Sprintf("plan %s not found", req.Slots["plan_code"])}, nil
	}
	var orders []Order
	for _, o := range d.Orders {
		if o.Plan == p.Code {
			orders = append(orders, o)
		}
	}
	var materials []Material
	for _, m := range d.Materials {
		if m.WorkCenter == p.WorkCenter {
			materials = append(materials, m)
		}
	}
	return Output{Fields: map[string]any{"plan": p, "orders": orders, "materials": materials}}, nil
}

func (d *Demo) suggestRecovery(_ context.Context, req Request) (Output, error) {
	p, ok := d.plan(req.Slots["plan_code"])
	if !ok {
		return Output{Error: fmt.Sprintf("plan %s not found", req.Slots["plan_code"])}, nil
	}
	if p.Status != "delayed" {
		return Output{FormattedResponse: fmt.Sprintf("%s is %s, no recovery is needed.", p.Code, p.Status)}, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Recovery options for %s (%d days late):", p.Code, p.DelayDays)
	for i, s := range d.Strategies {
		fmt.Fprintf(&b, "\n%d. %s (score %.2f)", i+1, s.Label, s.Score)
	}
	b.WriteString("\nReply with the number of the strategy to apply.")
	return Output{FormattedResponse: b.String(), Options: append([]workflow.Option(nil), d.Strategies...)}, nil
}

func (d *Demo) applyRecovery(_ context.Context, req Request) (Output, error) {
	p, ok := d.plan(req.Slots["plan_code"])
	if !ok {
		return Output{Error: fmt.Sprintf("plan %s not found", req.Slots["plan_code"])}, nil
	}
	choice := req.Slots["choice"]
	if choice == "" {
		return Output{FormattedResponse: fmt.Sprintf("Which strategy should I apply to %s? Ask me for recovery options first.", p.Code)}, nil
	}
	for _, s := range d.Strategies {
		if s.ID == choice {
			return Output{FormattedResponse: fmt.Sprintf("Done: %q is scheduled for %s.", s.Label, p.Code)}, nil
		}
	}
	return Output{Error: fmt.Sprintf("unknown strategy %q", choice)}, nil
}

func (d *Demo) listOpenOrders(_ context.Context, req Request) (Output, error) {
	var b strings.Builder
	n := 0
	for _, o := range d.Orders {
		if o.Status != "open" || !match(req.Slots["customer_code"], o.Customer) || !match(req.Slots["priority"], o.Priority) {
			continue
		}
		n++
		fmt.Fprintf(&b, "\n%d. %s for %s, due %s (%s priority)", n, o.Code, o.Customer, o.DueDate, o.Priority)
	}
	if n == 0 {
		return Output{FormattedResponse: "There are no open orders matching your request."}, nil
	}
	return Output{FormattedResponse: fmt.Sprintf("%d open orders:", n) + b.String()}, nil
}

func (d *Demo) orderStatus(_ context.Context, req Request) (Output, error) {
	code := req.Slots["order_code"]
	for _, o := range d.Orders {
		if strings.EqualFold(o.Code, code) {
			fields := map[string]any{"order": o}
			if p, ok := d.plan(o.Plan); ok {
				fields["plan"] = p
			}
			return Output{Fields: fields}, nil
		}
	}
	return Output{Error: fmt.Sprintf("order %s not found", code)}, nil
}

func (d *Demo) materialAvailability(_ context.Context, req Request) (Output, error) {
	code := req.Slots["material_code"]
	for _, m := range d.Materials {
		if strings.EqualFold(m.Code, code) {
			return Output{Fields: map[string]any{"material": m, "shortage": max(m.Required-m.OnHand, 0)}}, nil
		}
	}
	return Output{Error: fmt.Sprintf("material %s not found", code)}, nil
}

func (d *Demo) materialShortages(_ context.Context, req Request) (Output, error) {
	var b strings.Builder
	n := 0
	for _, m := range d.Materials {
		if m.OnHand >= m.Required || !match(req.Slots["work_center"], m.WorkCenter) {
			continue
		}
		n++
		fmt.Fprintf(&b, "\n%d. %s %s: %d on hand, %d required", n, m.Code, m.Description, m.OnHand, m.Required)
	}
	if n == 0 {
		return Output{FormattedResponse: "No material shortages right now."}, nil
	}
	return Output{FormattedResponse: fmt.Sprintf("%d materials are short:", n) + b.String()}, nil
}

func (d *Demo) capacityOverview(_ context.Context, req Request) (Output, error) {
	var rows []map[string]any
	for _, wc := range d.WorkCenters {
		if !match(req.Slots["org_unit"], wc.OrgUnit) {
			continue
		}
		rows = append(rows, map[string]any{
			"work_center": wc.Code,
			"name":        wc.Name,
			"utilization": wc.LoadHours / wc.CapacityHours,
		})
	}
	return Output{Fields: map[string]any{"work_centers": rows}}, nil
}

func (d *Demo) workCenterLoad(_ context.Context, req Request) (Output, error) {
	code := req.Slots["work_center"]
	for _, wc := range d.WorkCenters {
		if strings.EqualFold(wc.Code, code) {
			return Output{Fields: map[string]any{"work_center": wc, "utilization": wc.LoadHours / wc.CapacityHours}}, nil
		}
	}
	return Output{Error: fmt.Sprintf("work center %s not found", code)}, nil
}
