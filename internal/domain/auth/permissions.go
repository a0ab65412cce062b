package auth

import "context"

const (
	RoleSystemAdmin    = "system_admin"
	RoleCompanyAdmin   = "company_admin"
	RolePayrollOfficer = "payroll_officer"
	RoleViewer         = "viewer"
)

var Roles = []string{RoleSystemAdmin, RoleCompanyAdmin, RolePayrollOfficer, RoleViewer}

const (
	PermCompaniesRead   = "companies.read"
	PermCompaniesWrite  = "companies.write"
	PermExemptionsWrite = "companies.exemptions.write"
	PermUsersRead       = "users.read"
	PermUsersWrite      = "users.write"
	PermStaffRead       = "staff.read"
	PermStaffWrite      = "staff.write"
	PermStaffSensitive  = "staff.sensitive"
	PermTaxRead         = "tax.read"
	PermTaxWrite        = "tax.write"
	PermPayrollRead     = "payroll.read"
	PermPayrollRun      = "payroll.run"
	PermPayrollApprove  = "payroll.approve"
	PermAuditRead       = "audit.read"
)

var DefaultPermissions = []string{
	PermCompaniesRead,
	PermCompaniesWrite,
	PermExemptionsWrite,
	PermUsersRead,
	PermUsersWrite,
	PermStaffRead,
	PermStaffWrite,
	PermStaffSensitive,
	PermTaxRead,
	PermTaxWrite,
	PermPayrollRead,
	PermPayrollRun,
	PermPayrollApprove,
	PermAuditRead,
}

var RolePermissions = map[string][]string{
	RoleCompanyAdmin: {
		PermCompaniesRead,
		PermExemptionsWrite,
		PermUsersRead,
		PermUsersWrite,
		PermStaffRead,
		PermStaffWrite,
		PermStaffSensitive,
		PermTaxRead,
		PermPayrollRead,
		PermPayrollRun,
		PermPayrollApprove,
		PermAuditRead,
	},
	RolePayrollOfficer: {
		PermCompaniesRead,
		PermStaffRead,
		PermStaffWrite,
		PermStaffSensitive,
		PermTaxRead,
		PermPayrollRead,
		PermPayrollRun,
	},
	RoleViewer: {
		PermCompaniesRead,
		PermStaffRead,
		PermTaxRead,
		PermPayrollRead,
	},
	RoleSystemAdmin: DefaultPermissions,
}

// StaticPermissions answers permission checks from RolePermissions.
type StaticPermissions struct {
	index map[string]map[string]struct{}
}

func NewStaticPermissions() *StaticPermissions {
	index := make(map[string]map[string]struct{}, len(RolePermissions))
	for role, perms := range RolePermissions {
		set := make(map[string]struct{}, len(perms))
		for _, perm := range perms {
			set[perm] = struct{}{}
		}
		index[role] = set
	}
	return &StaticPermissions{index: index}
}

func (p *StaticPermissions) HasPermission(_ context.Context, role, permission string) (bool, error) {
	_, ok := p.index[role][permission]
	return ok, nil
}

func ValidRole(role string) bool {
	_, ok := RolePermissions[role]
	return ok
}
