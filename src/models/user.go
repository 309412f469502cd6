package models

import "time"

type User struct {
	ID                       string    `db:"id"`
	HasAcceptedPrivacyPolicy bool      `db:"has_accepted_privacy_policy"`
	CreatedAt                time.Time `db:"created_at"`
}
