package translate

import (
	"log/slog"

	"github.com/shineum/mailbridge/internal/email"
	"github.com/shineum/mailbridge/internal/source"
)

// ToAddress maps a source address to the delivery form. A structured
// address keeps its display name only when it is non-empty; an opaque one
// passes its raw text through as the address.
func ToAddress(a source.Address) email.Address {
	switch a.Kind() {
	case source.AddressStructured:
		if a.PersonalName() != "" {
			return email.Address{Name: a.PersonalName(), Address: a.Mailbox()}
		}
		return email.Address{Address: a.Mailbox()}
	case source.AddressOpaque:
		return email.Address{Address: a.Raw()}
	default:
		return email.Address{Address: a.String()}
	}
}

// ToAddresses maps a list of source addresses in order.
func ToAddresses(list []source.Address) []email.Address {
	if len(list) == 0 {
		return nil
	}
	result := make([]email.Address, 0, len(list))
	for _, a := range list {
		result = append(result, ToAddress(a))
	}
	return result
}

// ResolveRecipients picks the explicit override when it is non-empty and
// falls back to the recipients declared by the message headers otherwise.
func ResolveRecipients(override, declared []source.Address) []source.Address {
	if len(override) > 0 {
		return override
	}
	return declared
}

// mapRecipients resolves one recipient category and maps it.
func mapRecipients(category string, override, declared []source.Address) []email.Address {
	resolved := ToAddresses(ResolveRecipients(override, declared))
	for _, a := range resolved {
		slog.Debug("adding recipient", "category", category, "address", a.String())
	}
	return resolved
}

// fromAddress returns the first From address, or nil when there is none.
func fromAddress(from []source.Address) *email.Address {
	if len(from) == 0 {
		return nil
	}
	a := ToAddress(from[0])
	return &a
}
