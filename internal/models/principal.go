package models

const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleAdmin   = "admin"
)

// Principal is the authenticated caller as delivered by the upstream auth
// layer. Token verification happens outside this service.
type Principal struct {
	ID   string
	Role string
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

func (p Principal) CanDiagnose() bool {
	return p.Role == RoleAdmin || p.Role == RoleDoctor
}
