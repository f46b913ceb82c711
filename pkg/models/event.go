package models

import "time"

// EncodeResponse is returned by the encode endpoint
type EncodeResponse struct {
	Type    ContentType `json:"type"`
	Payload string      `json:"payload"`
}

// SessionPatch is a partial edit of a session; nil fields are left unchanged
type SessionPatch struct {
	Type  *ContentType    `json:"type,omitempty"`
	URL   *string         `json:"url,omitempty"`
	Text  *string         `json:"text,omitempty"`
	Wifi  *WifiCredential `json:"wifi,omitempty"`
	VCard *ContactCard    `json:"vcard,omitempty"`
	Email *EmailDraft     `json:"email,omitempty"`
	Style *StylePatch     `json:"style,omitempty"`
}

// SessionState describes a session as seen by a client
type SessionState struct {
	ID          string      `json:"id"`
	Type        ContentType `json:"type"`
	Payload     string      `json:"payload"`
	HasUserData bool        `json:"has_user_data"`
	HasLogo     bool        `json:"has_logo"`
	Style       Style       `json:"style"`
	Rendered    bool        `json:"rendered"`
	RenderedAt  *time.Time  `json:"rendered_at,omitempty"`
	UpdatedAt   time.Time   `json:"updated_at"`
}
