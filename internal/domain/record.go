package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Record is the per-chat document holding the personal data needed to query
// the appointment API.
type Record struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID          int64              `bson:"user_id" json:"user_id"`
	ChatID          int64              `bson:"chat_id" json:"chat_id"`
	InsuranceNumber *string            `bson:"insurance_number" json:"insurance_number"`
	BirthDate       *time.Time         `bson:"birth_date" json:"birth_date"`
	CreatedAt       time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time          `bson:"updated_at" json:"updated_at"`
}

// Eligible reports whether both personal fields are present, which is the
// condition for polling and for interactive API calls.
func (r Record) Eligible() bool {
	return r.InsuranceNumber != nil && *r.InsuranceNumber != "" && r.BirthDate != nil
}
