// Package session tracks where each chat is in the inline-keyboard navigation
// and validates callback transitions.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// State is the navigation position of a chat's keyboard message.
type State string

const (
	StateIdle      State = "idle"
	StateReferrals State = "referrals"
	StateProviders State = "providers"
)

// Action is the verb part of callback data.
type Action string

const (
	ActionGetReferrals Action = "get_referrals"
	ActionGetDoctors   Action = "get_doctors"
	ActionBackToMain   Action = "back_to_main"
	// ActionNoop marks informational buttons.
	ActionNoop Action = "_"
)

var (
	// ErrInvalidTransition is returned for stale or out-of-order callbacks.
	ErrInvalidTransition = errors.New("invalid navigation transition")

	// ErrUnknownCallback is returned for callback data that is not ours.
	ErrUnknownCallback = errors.New("unknown callback data")
)

// Callback is parsed callback data of the form action[/argument].
type Callback struct {
	Action     Action
	ReferralID int64
}

// ParseCallback decodes callback data. Only get_doctors carries an argument,
// which must be an integer referral id.
func ParseCallback(data string) (Callback, error) {
	action, arg, hasArg := strings.Cut(strings.TrimSpace(data), "/")

	switch Action(action) {
	case ActionGetReferrals, ActionBackToMain, ActionNoop:
		if hasArg {
			return Callback{}, fmt.Errorf("%w: %q", ErrUnknownCallback, data)
		}
		return Callback{Action: Action(action)}, nil
	case ActionGetDoctors:
		id, err := strconv.ParseInt(arg, 10, 64)
		if !hasArg || err != nil {
			return Callback{}, fmt.Errorf("%w: %q", ErrUnknownCallback, data)
		}
		return Callback{Action: ActionGetDoctors, ReferralID: id}, nil
	default:
		return Callback{}, fmt.Errorf("%w: %q", ErrUnknownCallback, data)
	}
}

// Data encodes the callback for an inline button.
func (c Callback) Data() string {
	if c.Action == ActionGetDoctors {
		return string(c.Action) + "/" + strconv.FormatInt(c.ReferralID, 10)
	}
	return string(c.Action)
}

// Session is the per-chat navigation state.
type Session struct {
	State       State     `json:"state"`
	MessageID   int       `json:"message_id"`
	ReferralIDs []int64   `json:"referral_ids,omitempty"`
	ReferralID  int64     `json:"referral_id,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Idle returns the entry state for a message.
func Idle(messageID int) Session {
	return Session{State: StateIdle, MessageID: messageID}
}

// For returns the session as seen from a callback on messageID. A callback
// on any other message starts from idle.
func (s Session) For(messageID int) Session {
	if s.MessageID != messageID || s.State == "" {
		return Idle(messageID)
	}
	return s
}

// Offers reports whether the referral keyboard offered id.
func (s Session) Offers(id int64) bool {
	for _, offered := range s.ReferralIDs {
		if offered == id {
			return true
		}
	}
	return false
}

// Next validates a callback against the transition table and returns the
// target state.
func Next(s Session, cb Callback) (State, error) {
	switch s.State {
	case StateIdle:
		if cb.Action == ActionGetReferrals {
			return StateReferrals, nil
		}
	case StateReferrals:
		switch cb.Action {
		case ActionGetReferrals:
			return StateReferrals, nil
		case ActionGetDoctors:
			if s.Offers(cb.ReferralID) {
				return StateProviders, nil
			}
		case ActionBackToMain:
			return StateIdle, nil
		}
	case StateProviders:
		switch cb.Action {
		case ActionGetReferrals:
			return StateReferrals, nil
		case ActionBackToMain:
			return StateIdle, nil
		}
	}

	return s.State, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, cb.Data(), s.State)
}

// Store persists sessions per chat.
type Store interface {
	// Load returns the chat's session, or an idle session with no message
	// when none is stored.
	Load(ctx context.Context, chatID int64) (Session, error)
	Save(ctx context.Context, chatID int64, s Session) error
}
