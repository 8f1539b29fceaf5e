package auth

import "github.com/probelab/aegis/internal/model"

// Permission names an action a role may perform.  The set is closed;
// handlers and middleware check membership via For.
type Permission string

const (
    PermStudyRead       Permission = "study:read"
    PermStudyWrite      Permission = "study:write"
    PermTemplateRead    Permission = "template:read"
    PermTemplateWrite   Permission = "template:write"
    PermSessionClassify Permission = "session:classify"
    PermExport          Permission = "export:run"
    PermUserManage      Permission = "user:manage"
    PermAuditRead       Permission = "audit:read"
)

// For maps a role to its permission set.  The switch is exhaustive over
// the role constants in the model package; an unknown role gets no
// permissions at all rather than some default.
func For(role string) []Permission {
    switch role {
    case model.RoleAdmin:
        return []Permission{
            PermStudyRead, PermStudyWrite,
            PermTemplateRead, PermTemplateWrite,
            PermSessionClassify, PermExport,
            PermUserManage, PermAuditRead,
        }
    case model.RoleResearcher:
        return []Permission{
            PermStudyRead, PermStudyWrite,
            PermTemplateRead, PermTemplateWrite,
            PermSessionClassify, PermExport,
        }
    case model.RoleAnalyst:
        return []Permission{
            PermStudyRead, PermTemplateRead,
            PermSessionClassify, PermExport,
        }
    case model.RoleViewer:
        return []Permission{PermStudyRead, PermTemplateRead}
    default:
        return nil
    }
}

// Allowed reports whether role grants p.
func Allowed(role string, p Permission) bool {
    for _, granted := range For(role) {
        if granted == p {
            return true
        }
    }
    return false
}
