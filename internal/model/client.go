package model

type ConsentStatus string

const (
	ConsentGranted ConsentStatus = "granted"
	ConsentRevoked ConsentStatus = "revoked"
)

type Client struct {
	ID               string                    `db:"id" json:"id"`
	PracticeID       string                    `db:"practice_id" json:"practice_id"`
	FirstName        string                    `db:"first_name" json:"first_name"`
	LastName         string                    `db:"last_name" json:"last_name"`
	Email            string                    `db:"email" json:"email"`
	Phone            string                    `db:"phone" json:"phone"`
	ChatAddress      string                    `db:"chat_address" json:"chat_address"`
	PreferredChannel Channel                   `db:"preferred_channel" json:"preferred_channel"`
	ChaseEnabled     bool                      `db:"chase_enabled" json:"chase_enabled"`
	Consent          map[Channel]ConsentStatus `json:"consent"`
}

// DefaultConsent returns the starting consent state for a channel: email runs on
// legitimate interest, sms and chat need an explicit opt-in.
func DefaultConsent(ch Channel) ConsentStatus {
	if ch == ChannelEmail {
		return ConsentGranted
	}
	return ConsentRevoked
}

// ConsentFor reports the current status for ch, falling back to the default.
func (c *Client) ConsentFor(ch Channel) ConsentStatus {
	if s, ok := c.Consent[ch]; ok {
		return s
	}
	return DefaultConsent(ch)
}

// GrantedChannels lists the channels the client currently permits.
func (c *Client) GrantedChannels() []Channel {
	var out []Channel
	for _, ch := range Channels {
		if c.ConsentFor(ch) == ConsentGranted {
			out = append(out, ch)
		}
	}
	return out
}
