package user

import "github.com/secmon-lab/vigil/pkg/domain/types"

// User is a chat participant resolved through the directory. Profiles are
// created lazily on first contact and cached for the process lifetime.
type User struct {
	ID       types.UserID   `json:"id"`
	Name     types.UserName `json:"name"`
	RealName string         `json:"real_name,omitempty"`
	CanAuth  bool           `json:"can_auth"`
}

// DisplayName picks the friendliest name available for addressing the user.
func (x *User) DisplayName() string {
	if x.RealName != "" {
		return x.RealName
	}
	return x.Name.String()
}
