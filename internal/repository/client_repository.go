package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	appErrors "github.com/unclebandit/chaser-backend/internal/errors"
	"github.com/unclebandit/chaser-backend/internal/model"
)

type ClientRepository struct {
	DB *sql.DB
}

const clientColumns = `id, practice_id, first_name, last_name, email, phone, chat_address, preferred_channel,
        chase_enabled, email_consent, sms_consent, chat_consent`

// consentColumn maps a channel to its consent column. NULL means the channel default.
var consentColumn = map[model.Channel]string{
	model.ChannelEmail: "email_consent",
	model.ChannelSMS:   "sms_consent",
	model.ChannelChat:  "chat_consent",
}

// addressColumn maps a channel to the client column holding its address.
var addressColumn = map[model.Channel]string{
	model.ChannelEmail: "email",
	model.ChannelSMS:   "phone",
	model.ChannelChat:  "chat_address",
}

func scanClient(row rowScanner) (*model.Client, error) {
	var (
		c                                     model.Client
		email, phone, chat, preferred         sql.NullString
		emailConsent, smsConsent, chatConsent sql.NullString
	)
	err := row.Scan(&c.ID, &c.PracticeID, &c.FirstName, &c.LastName, &email, &phone, &chat, &preferred,
		&c.ChaseEnabled, &emailConsent, &smsConsent, &chatConsent)
	if err != nil {
		return nil, err
	}
	c.Email = email.String
	c.Phone = phone.String
	c.ChatAddress = chat.String
	c.PreferredChannel = model.Channel(preferred.String)
	c.Consent = map[model.Channel]model.ConsentStatus{}
	for ch, v := range map[model.Channel]sql.NullString{
		model.ChannelEmail: emailConsent,
		model.ChannelSMS:   smsConsent,
		model.ChannelChat:  chatConsent,
	} {
		if v.Valid {
			c.Consent[ch] = model.ConsentStatus(v.String)
		}
	}
	return &c, nil
}

// GetByID fetches a client by ID
func (r *ClientRepository) GetByID(ctx context.Context, id string) (*model.Client, error) {
	c, err := scanClient(r.DB.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewClientNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

// GetByAddress resolves the sender of an inbound message to a client.
func (r *ClientRepository) GetByAddress(ctx context.Context, channel model.Channel, address string) (*model.Client, error) {
	col, ok := addressColumn[channel]
	if !ok {
		return nil, fmt.Errorf("unknown channel %q", channel)
	}
	query := `SELECT ` + clientColumns + ` FROM clients WHERE ` + col + `=$1 ORDER BY created_at LIMIT 1`
	c, err := scanClient(r.DB.QueryRowContext(ctx, query, address))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewClientNotFound(address)
		}
		return nil, err
	}
	return c, nil
}

func (r *ClientRepository) SetConsent(ctx context.Context, clientID string, channel model.Channel, status model.ConsentStatus) error {
	col, ok := consentColumn[channel]
	if !ok {
		return fmt.Errorf("unknown channel %q", channel)
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE clients SET `+col+`=$2, updated_at=NOW() WHERE id=$1`, clientID, status)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.NewClientNotFound(clientID)
	}
	return nil
}

var _ ClientRepositoryInterface = (*ClientRepository)(nil)
