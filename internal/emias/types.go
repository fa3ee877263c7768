package emias

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar date format used on the wire.
const DateLayout = "2006-01-02"

// Date is a calendar date decoded from a YYYY-MM-DD string. Timestamps with a
// time component are truncated to their date part.
type Date struct {
	time.Time
}

// UnmarshalJSON accepts "YYYY-MM-DD" and RFC 3339 strings.
func (d *Date) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}

	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}

	raw = strings.TrimSpace(raw)
	if len(raw) > len(DateLayout) {
		raw = raw[:len(DateLayout)]
	}

	parsed, err := time.ParseInLocation(DateLayout, raw, time.UTC)
	if err != nil {
		return fmt.Errorf("parse date %q: %w", raw, err)
	}

	d.Time = parsed
	return nil
}

// MarshalJSON writes the date back as YYYY-MM-DD.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(DateLayout))
}

// Referral is an authorization for a specialist visit or a diagnostic
// procedure. Exactly one of ToDoctor and ToLdp is set.
type Referral struct {
	ID        int64     `json:"id"`
	StartTime Date      `json:"startTime"`
	EndTime   Date      `json:"endTime"`
	LpuID     int64     `json:"lpuId"`
	LpuName   string    `json:"lpuName"`
	ToLdp     *ToLdp    `json:"toLdp,omitempty"`
	ToDoctor  *ToDoctor `json:"toDoctor,omitempty"`
}

// ToLdp describes a referral to a diagnostic procedure.
type ToLdp struct {
	LdpTypeID   int64  `json:"ldpTypeId"`
	LdpTypeName string `json:"ldpTypeName"`
}

// ToDoctor describes a referral to a specialist.
type ToDoctor struct {
	SpecialityID    int64  `json:"specialityId"`
	SpecialityName  string `json:"specialityName"`
	ReceptionTypeID int64  `json:"receptionTypeId"`
}

// Name returns the specialty name for doctor referrals and the procedure type
// name for LDP referrals.
func (r Referral) Name() string {
	if r.ToDoctor != nil {
		return r.ToDoctor.SpecialityName
	}
	if r.ToLdp != nil {
		return r.ToLdp.LdpTypeName
	}
	return ""
}

// Doctor is a bookable specialist returned for a referral.
type Doctor struct {
	ID               int64      `json:"id"`
	LpuID            int64      `json:"lpuId"`
	Name             string     `json:"name"`
	ArSpecialityID   int64      `json:"arSpecialityId"`
	ArSpecialityName string     `json:"arSpecialityName"`
	MainDoctor       MainDoctor `json:"mainDoctor"`
	ComplexResource  []Resource `json:"complexResource"`
}

// MainDoctor holds the person behind a Doctor resource.
type MainDoctor struct {
	SpecialityName string `json:"specialityName"`
	SpecialityID   int64  `json:"specialityId"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	SecondName     string `json:"secondName"`
}

// FullName renders "first second last".
func (d Doctor) FullName() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{d.MainDoctor.FirstName, d.MainDoctor.SecondName, d.MainDoctor.LastName} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, strings.TrimSpace(p))
		}
	}
	return strings.Join(parts, " ")
}

// Ldp is a diagnostic facility returned for a referral.
type Ldp struct {
	ID              int64      `json:"id"`
	LpuID           int64      `json:"lpuId"`
	Name            string     `json:"name"`
	LdpType         []LdpType  `json:"ldpType"`
	ComplexResource []Resource `json:"complexResource"`
}

// LdpType is a procedure type code and label.
type LdpType struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Resource is a schedulable slot holder. Only resources with a room are
// bookable.
type Resource struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Room *Room  `json:"room,omitempty"`
}

// Room is the physical location carrying the nearest availability date.
type Room struct {
	ID               int64  `json:"id"`
	Number           string `json:"number"`
	LpuID            int64  `json:"lpuId"`
	LpuShortName     string `json:"lpuShortName"`
	DefaultAddress   string `json:"defaultAddress"`
	AvailabilityDate Date   `json:"availabilityDate"`
}
