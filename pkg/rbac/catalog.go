package rbac

import (
	"fmt"
	"sort"
)

// Resource is a resource type a permission applies to
type Resource string

const (
	ResourceExpense  Resource = "expense"
	ResourceBudget   Resource = "budget"
	ResourceReport   Resource = "report"
	ResourceForecast Resource = "forecast"
	ResourceAlert    Resource = "alert"
	ResourceReceipt  Resource = "receipt"
	ResourceTeam     Resource = "team"
	ResourceUser     Resource = "user"
	ResourceRole     Resource = "role"
)

// Action is an operation on a resource
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Resources lists every resource in catalog order
var Resources = []Resource{
	ResourceExpense, ResourceBudget, ResourceReport, ResourceForecast, ResourceAlert,
	ResourceReceipt, ResourceTeam, ResourceUser, ResourceRole,
}

// Actions lists every action in catalog order
var Actions = []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete}

var resourceLabels = map[Resource]string{
	ResourceExpense:  "Expenses",
	ResourceBudget:   "Budgets",
	ResourceReport:   "Reports",
	ResourceForecast: "Forecasts",
	ResourceAlert:    "Smart Alerts",
	ResourceReceipt:  "Receipts",
	ResourceTeam:     "Team Management",
	ResourceUser:     "User Management",
	ResourceRole:     "Role Management",
}

// Permission builds the "{action}_{resource}" token
func Permission(action Action, resource Resource) string {
	return string(action) + "_" + string(resource)
}

// PermissionGroup is the set of tokens for one resource
type PermissionGroup struct {
	Resource    Resource `json:"resource"`
	Label       string   `json:"label"`
	Permissions []string `json:"permissions"`
}

// Template is a named permission set used to seed roles
type Template struct {
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

// Template keys
const (
	TemplateAdmin      = "admin"
	TemplateManager    = "manager"
	TemplateMember     = "member"
	TemplateViewer     = "viewer"
	TemplateAccountant = "accountant"
)

var (
	allPermissions []string
	validTokens    map[string]Resource
	templates      map[string]Template
	templateOrder  = []string{TemplateAdmin, TemplateManager, TemplateMember, TemplateViewer, TemplateAccountant}
)

func init() {
	validTokens = make(map[string]Resource, len(Resources)*len(Actions))
	for _, resource := range Resources {
		for _, action := range Actions {
			token := Permission(action, resource)
			allPermissions = append(allPermissions, token)
			validTokens[token] = resource
		}
	}

	templates = map[string]Template{
		TemplateAdmin: {
			Key:         TemplateAdmin,
			Name:        "Team Administrator",
			Description: "Full access to all team resources and management",
			Permissions: append([]string(nil), allPermissions...),
		},
		TemplateManager: {
			Key:         TemplateManager,
			Name:        "Team Manager",
			Description: "Can manage expenses, budgets, and view reports",
			Permissions: []string{
				"create_expense", "read_expense", "update_expense",
				"create_budget", "read_budget", "update_budget",
				"create_report", "read_report",
				"create_forecast", "read_forecast",
				"create_alert", "read_alert", "update_alert",
				"read_user",
			},
		},
		TemplateMember: {
			Key:         TemplateMember,
			Name:        "Team Member",
			Description: "Can create expenses and view budgets",
			Permissions: []string{
				"create_expense", "read_expense", "update_expense",
				"read_budget", "read_report", "read_forecast", "read_alert",
				"create_receipt", "read_receipt",
			},
		},
		TemplateViewer: {
			Key:         TemplateViewer,
			Name:        "Viewer",
			Description: "Read-only access to team data",
			Permissions: []string{
				"read_expense", "read_budget", "read_report",
				"read_forecast", "read_alert", "read_receipt",
			},
		},
		TemplateAccountant: {
			Key:         TemplateAccountant,
			Name:        "Accountant",
			Description: "Full access to financial data and reporting",
			Permissions: []string{
				"read_expense", "update_expense",
				"read_budget", "update_budget",
				"create_report", "read_report", "update_report",
				"create_forecast", "read_forecast", "update_forecast",
				"read_alert",
				"read_receipt", "update_receipt",
			},
		},
	}
}

// AllPermissions returns every valid token in catalog order
func AllPermissions() []string {
	return append([]string(nil), allPermissions...)
}

// ListPermissions returns the catalog grouped by resource
func ListPermissions() []PermissionGroup {
	groups := make([]PermissionGroup, 0, len(Resources))
	for _, resource := range Resources {
		group := PermissionGroup{Resource: resource, Label: resourceLabels[resource]}
		for _, action := range Actions {
			group.Permissions = append(group.Permissions, Permission(action, resource))
		}
		groups = append(groups, group)
	}
	return groups
}

// ResourceLabel returns the display label of a resource
func ResourceLabel(resource Resource) string {
	return resourceLabels[resource]
}

// TemplateFor returns a copy of the named template
func TemplateFor(name string) (Template, bool) {
	t, ok := templates[name]
	if !ok {
		return Template{}, false
	}
	t.Permissions = append([]string(nil), t.Permissions...)
	return t, true
}

// ListTemplates returns all templates in a stable order
func ListTemplates() []Template {
	list := make([]Template, 0, len(templateOrder))
	for _, key := range templateOrder {
		t, _ := TemplateFor(key)
		list = append(list, t)
	}
	return list
}

// IsValidPermission reports whether token is in the catalog
func IsValidPermission(token string) bool {
	_, ok := validTokens[token]
	return ok
}

// IsValidPermissionSet reports whether every token is in the catalog
func IsValidPermissionSet(tokens []string) bool {
	for _, token := range tokens {
		if !IsValidPermission(token) {
			return false
		}
	}
	return true
}

// ValidatePermissions rejects an empty set or any unknown token
func ValidatePermissions(tokens []string) error {
	if len(tokens) == 0 {
		return NewValidationError(CodeInvalidPermissions, "permissions", "At least one permission is required")
	}
	for _, token := range tokens {
		if !IsValidPermission(token) {
			return NewValidationError(CodeInvalidPermissions, "permissions",
				fmt.Sprintf("Invalid permission: %s", token))
		}
	}
	return nil
}

// NormalizePermissions drops duplicates while keeping first-seen order
func NormalizePermissions(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if seen[token] {
			continue
		}
		seen[token] = true
		out = append(out, token)
	}
	return out
}

// GroupByResource groups tokens by resource label. Unknown tokens are ignored.
func GroupByResource(tokens []string) map[string][]string {
	grouped := make(map[string][]string)
	for _, token := range tokens {
		resource, ok := validTokens[token]
		if !ok {
			continue
		}
		label := resourceLabels[resource]
		grouped[label] = append(grouped[label], token)
	}
	for label := range grouped {
		sort.Strings(grouped[label])
	}
	return grouped
}
