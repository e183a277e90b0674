package account

// Account is a username and the secret an attacker must present for it.
// An empty Secret means any password (or none) is accepted.
type Account struct {
	Username string `json:"username" yaml:"username"`
	Secret   string `json:"secret" yaml:"secret"`
}

// Open reports whether the account admits every password.
func (a Account) Open() bool {
	return a.Secret == ""
}
