package models

import (
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// MaxIdentityLength bounds identity references accepted by the store.
const MaxIdentityLength = 64

// MaxTextLength bounds the size of a message body in bytes.
const MaxTextLength = 4096

// identityRule accepts opaque ids such as UUIDs, 24-char ObjectIds or
// short test ids. ':' is reserved by ConversationKey.
const identityRule = "required,max=64,printascii,excludesall=/?#:"

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidIdentity reports whether id is a well-formed identity reference.
func ValidIdentity(id string) bool {
	if err := validate.Var(id, identityRule); err != nil {
		return false
	}
	return strings.IndexFunc(id, unicode.IsSpace) < 0
}

// ValidText reports whether text is an acceptable message body.
func ValidText(text string) bool {
	return strings.TrimSpace(text) != "" && len(text) <= MaxTextLength
}
