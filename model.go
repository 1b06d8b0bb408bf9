package gbackup

import "encoding/json"

// Profile is the signed in user as reported by the identity provider.
type Profile struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Photo string `json:"photo,omitempty"`
}

type Credentials struct {
	Profile Profile
}

// Discovery is the outcome of SignInAndDiscover. FileID is empty and Payload
// is nil when the account has no backup yet.
type Discovery struct {
	Profile Profile
	FileID  string
	Payload json.RawMessage
}

func (d *Discovery) HasBackup() bool {
	return d.FileID != ""
}

// MarshalPayload turns any JSON serializable value into a backup payload.
func MarshalPayload(v interface{}) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}
