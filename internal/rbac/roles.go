package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleOwner      = "owner"
	RoleDoctor     = "doctor"
	RoleAssistant  = "assistant"
	RoleSuperAdmin = "super_admin"
	RoleSupport    = "support" // hidden role: platform support staff
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

// ClinicalRoles may create and process recordings.
func ClinicalRoles() []string {
	return []string{RoleOwner, RoleDoctor, RoleAssistant}
}
