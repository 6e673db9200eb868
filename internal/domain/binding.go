package domain

// BindingMetaKey is the account attribute that stores a bound chat identity.
const BindingMetaKey = "qqpush_bound_qq_id"

// Binding associates a chat identity with a site account.
type Binding struct {
	ChatID    string `json:"qq_id"`
	AccountID int64  `json:"user_id"`
}
