package api

import (
	"context"
	"encoding/json"
	"fmt"
)

// Account is a client account as the backend's directory reports it. This
// code never creates or deletes accounts; the directory is read-only and
// only partially known (limit fields are present on some backend versions
// and absent on others).
type Account struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email,omitempty"`
	MaxCompanies   *int   `json:"maxCompanies,omitempty"`
	MaxUsers       *int   `json:"maxUsers,omitempty"`
	MaxInventories *int   `json:"maxInventories,omitempty"`
}

// ListAccounts returns all client accounts visible to the token's admin.
func (c *Client) ListAccounts(ctx context.Context) ([]Account, error) {
	raw, err := c.Get(ctx, "/api/clients")
	if err != nil {
		return nil, err
	}

	// List responses are either a bare array or {"clients": [...]} /
	// {"data": [...]}.
	var accounts []Account
	if err := json.Unmarshal(raw, &accounts); err == nil {
		return accounts, nil
	}

	var envelope struct {
		Clients []Account `json:"clients"`
		Data    []Account `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, &FetchError{Message: "unrecognized response shape"}
	}
	if envelope.Clients != nil {
		return envelope.Clients, nil
	}
	if envelope.Data != nil {
		return envelope.Data, nil
	}
	return nil, &FetchError{Message: "unrecognized response shape"}
}

// GetAccount returns a single client account by id.
func (c *Client) GetAccount(ctx context.Context, clientID string) (*Account, error) {
	raw, err := c.Get(ctx, fmt.Sprintf("/api/clients/%s", clientID))
	if err != nil {
		return nil, err
	}

	obj, err := Extract(raw, "client")
	if err != nil {
		return nil, err
	}

	var account Account
	if err := json.Unmarshal(obj, &account); err != nil {
		return nil, &FetchError{Message: fmt.Sprintf("decode client %s: %v", clientID, err)}
	}
	if account.ID == "" {
		account.ID = clientID
	}

	return &account, nil
}
