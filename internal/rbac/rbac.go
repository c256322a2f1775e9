// Package rbac maps workspace roles to the actions they allow. The owner
// of a workspace is always RoleOwner; collaborators on a shared workspace
// get RoleEditor; anyone else is RoleNone.
package rbac

type Role string
type Action string

const (
	RoleNone   Role = "none"
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleOwner  Role = "owner"
)

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionShare  Action = "share"
	ActionDelete Action = "delete"
)

// Workspace permission modes.
const (
	PermissionPrivate = "private"
	PermissionShared  = "shared"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner:
		return true
	case RoleEditor:
		return action == ActionRead || action == ActionWrite
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleEditor, RoleOwner:
		return Role(role)
	default:
		return RoleNone
	}
}

// RoleFor resolves a user's role on a workspace from ownership and
// collaborator membership. Private workspaces grant nothing to anyone but
// the owner regardless of the collaborator list.
func RoleFor(userID, ownerID, permissions string, isCollaborator bool) Role {
	if userID == ownerID {
		return RoleOwner
	}
	if permissions == PermissionShared && isCollaborator {
		return RoleEditor
	}
	return RoleNone
}
