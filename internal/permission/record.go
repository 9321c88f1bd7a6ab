// Package permission holds the feature-flag and usage-limit state of a
// client account and its reconciler. Unlike validity, permissions are soft
// data: reads degrade to defaults instead of erroring, and a failed commit
// keeps the operator's draft so typed input is not lost.
package permission

import "github.com/dkazmin/clientd/internal/api"

// Fallback limits used when neither the backend nor the account directory
// knows better.
const defaultLimit = 5

// Record is the authoritative permission record for one client account.
// All fields are independently settable; 0 is a real "no allowance" limit,
// not an unset marker, and no cross-field rule ties flags to limits.
type Record struct {
	MaxCompanies   int `json:"maxCompanies"`
	MaxUsers       int `json:"maxUsers"`
	MaxInventories int `json:"maxInventories"`

	CanSendInvoiceEmail    bool `json:"canSendInvoiceEmail"`
	CanSendInvoiceWhatsapp bool `json:"canSendInvoiceWhatsapp"`
	CanCreateUsers         bool `json:"canCreateUsers"`
	CanCreateCustomers     bool `json:"canCreateCustomers"`
	CanCreateVendors       bool `json:"canCreateVendors"`
	CanCreateProducts      bool `json:"canCreateProducts"`
	CanCreateCompanies     bool `json:"canCreateCompanies"`
	CanUpdateCompanies     bool `json:"canUpdateCompanies"`
}

// Defaults builds the fallback record for an account. Limits come from the
// partially-known directory entry where present; flags default to off.
func Defaults(account *api.Account) Record {
	rec := Record{
		MaxCompanies:   defaultLimit,
		MaxUsers:       defaultLimit,
		MaxInventories: defaultLimit,
	}

	if account != nil {
		if account.MaxCompanies != nil {
			rec.MaxCompanies = *account.MaxCompanies
		}
		if account.MaxUsers != nil {
			rec.MaxUsers = *account.MaxUsers
		}
		if account.MaxInventories != nil {
			rec.MaxInventories = *account.MaxInventories
		}
	}

	return rec
}
