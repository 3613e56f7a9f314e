package domain

type Role string

const (
	RoleFarmer     Role = "farmer"
	RoleSpecialist Role = "specialist"
	RoleUnknown    Role = "unknown"
)

// ParseRole maps a stored role name onto a Role, defaulting to RoleUnknown.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleFarmer, RoleSpecialist:
		return Role(s)
	}
	return RoleUnknown
}

// FallbackName is shown when the user directory cannot resolve a name.
func (r Role) FallbackName() string {
	switch r {
	case RoleFarmer:
		return "Farmer"
	case RoleSpecialist:
		return "Specialist"
	}
	return "Participant"
}

// Profile is the user directory entry of a participant.
type Profile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}
