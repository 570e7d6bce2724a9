package domain

type User struct {
	UID         string  `json:"uid"`
	Role        string  `json:"role"`
	DisplayName string  `json:"display_name"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
}

const (
	RoleIndividual  = "individual"
	RoleCooperative = "cooperative"
)

const UnknownUserName = "Unknown User"

// CanChatWith - правило допуска собеседника: кооператив видит всех,
// индивидуальный пользователь - только кооперативы. Себя - никогда.
func (u *User) CanChatWith(other *User) bool {
	if other == nil || other.UID == u.UID {
		return false
	}
	if u.Role == RoleCooperative {
		return true
	}
	return other.Role == RoleCooperative
}

func (u *User) Name() string {
	if u == nil || u.DisplayName == "" {
		return UnknownUserName
	}
	return u.DisplayName
}

func ValidRole(role string) bool {
	return role == RoleIndividual || role == RoleCooperative
}

// Roster - снимок допустимых собеседников текущего пользователя.
type Roster struct {
	Partners map[string]*User
	Existing map[string]struct{}
}

func NewRoster() *Roster {
	return &Roster{
		Partners: make(map[string]*User),
		Existing: make(map[string]struct{}),
	}
}

func (r *Roster) Exists(uid string) bool {
	if r == nil {
		return false
	}
	_, ok := r.Existing[uid]
	return ok
}

func (r *Roster) Partner(uid string) (*User, bool) {
	if r == nil {
		return nil, false
	}
	u, ok := r.Partners[uid]
	return u, ok
}
