// Package navigation drives the inline-keyboard flow: referrals, then the
// providers for one referral, and back.
package navigation

import (
	"context"
	"errors"

	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"emias_bot/internal/domain"
	"emias_bot/internal/emias"
	"emias_bot/internal/logging"
	"emias_bot/internal/render"
	"emias_bot/internal/session"
)

const (
	textReferralsFailed = "Не удалось получить список направлений"
	textProvidersFailed = "Не удалось получить список врачей"
	textNotOnboarded    = render.TextNotOnboarded
	textFillData        = render.TextFillData
	textOutdated        = "Кнопка устарела, откройте меню заново."
)

// RecordFinder loads a chat's record.
type RecordFinder interface {
	FindByChatID(ctx context.Context, chatID int64) (domain.Record, error)
}

// API is the subset of the appointment client used by navigation.
type API interface {
	FetchReferrals(ctx context.Context, creds emias.Credentials) ([]emias.Referral, error)
	FetchDoctorsOrLdps(ctx context.Context, creds emias.Credentials, referralID int64) (emias.Listing, error)
}

// TransitionObserver records accepted and rejected transitions.
type TransitionObserver interface {
	// target is the reached state, or the attempted action when rejected.
	ObserveTransition(target string, ok bool)
}

// Outcome tells the transport what to do for a callback. Any combination of
// fields may be set; the zero value means nothing to do.
type Outcome struct {
	// Markup replaces the keyboard of the callback's message.
	Markup *models.InlineKeyboardMarkup
	// Notice is sent as a new message to the chat.
	Notice string
	// Answer is shown as the callback query answer.
	Answer string
}

// Service evaluates callbacks against the per-chat session.
type Service struct {
	records  RecordFinder
	api      API
	sessions session.Store
	observer TransitionObserver
	logger   *logrus.Entry
}

// NewService constructs a Service. observer may be nil.
func NewService(records RecordFinder, api API, sessions session.Store, observer TransitionObserver, logger *logrus.Entry) *Service {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Service{
		records:  records,
		api:      api,
		sessions: sessions,
		observer: observer,
		logger:   logger,
	}
}

// Handle processes callback data pressed on messageID in chatID.
func (s *Service) Handle(ctx context.Context, chatID int64, messageID int, data string) Outcome {
	log := logging.Enrich(s.logger, logging.Context{ChatID: chatID, Event: "callback_handled"}).
		WithField("callback_data", data)

	cb, err := session.ParseCallback(data)
	if err != nil {
		log.WithError(err).Debug("ignoring unknown callback")
		return Outcome{}
	}
	if cb.Action == session.ActionNoop {
		return Outcome{}
	}

	stored, err := s.sessions.Load(ctx, chatID)
	if err != nil {
		log.WithError(err).Warn("failed to load session; starting from idle")
		stored = session.Idle(messageID)
	}
	current := stored.For(messageID)

	to, err := session.Next(current, cb)
	if err != nil {
		s.observe(string(cb.Action), false)
		log.WithField("state", current.State).Info("rejected stale callback")
		return Outcome{Answer: textOutdated}
	}

	var (
		outcome Outcome
		next    session.Session
		ok      bool
	)
	switch to {
	case session.StateIdle:
		outcome, next, ok = Outcome{Markup: render.MainKeyboard()}, session.Idle(messageID), true
	case session.StateReferrals:
		outcome, next, ok = s.showReferrals(ctx, log, chatID, messageID)
	case session.StateProviders:
		outcome, next, ok = s.showProviders(ctx, log, chatID, current, cb.ReferralID)
	}

	if !ok {
		return outcome
	}

	if err := s.sessions.Save(ctx, chatID, next); err != nil {
		log.WithError(err).Warn("failed to save session")
	}
	s.observe(string(to), true)
	log.WithFields(logrus.Fields{"from": current.State, "to": to}).Debug("navigation transition")

	return outcome
}

func (s *Service) showReferrals(ctx context.Context, log *logrus.Entry, chatID int64, messageID int) (Outcome, session.Session, bool) {
	creds, outcome, ok := s.credentials(ctx, log, chatID, textReferralsFailed)
	if !ok {
		return outcome, session.Session{}, false
	}

	referrals, err := s.api.FetchReferrals(ctx, creds)
	if err != nil {
		log.WithError(err).Warn("failed to fetch referrals")
		return Outcome{Notice: textReferralsFailed}, session.Session{}, false
	}

	ids := make([]int64, 0, len(referrals))
	for _, referral := range referrals {
		ids = append(ids, referral.ID)
	}

	next := session.Session{State: session.StateReferrals, MessageID: messageID, ReferralIDs: ids}
	return Outcome{Markup: render.ReferralsKeyboard(referrals)}, next, true
}

func (s *Service) showProviders(ctx context.Context, log *logrus.Entry, chatID int64, current session.Session, referralID int64) (Outcome, session.Session, bool) {
	creds, outcome, ok := s.credentials(ctx, log, chatID, textProvidersFailed)
	if !ok {
		return outcome, session.Session{}, false
	}

	listing, err := s.api.FetchDoctorsOrLdps(ctx, creds, referralID)
	if err != nil {
		log.WithError(err).WithField("referral_id", referralID).Warn("failed to fetch providers")
		return Outcome{Notice: textProvidersFailed}, session.Session{}, false
	}

	next := session.Session{
		State:       session.StateProviders,
		MessageID:   current.MessageID,
		ReferralIDs: current.ReferralIDs,
		ReferralID:  referralID,
	}
	return Outcome{Markup: render.ProvidersKeyboard(listing)}, next, true
}

// credentials checks eligibility before any API call is made.
func (s *Service) credentials(ctx context.Context, log *logrus.Entry, chatID int64, failText string) (emias.Credentials, Outcome, bool) {
	record, err := s.records.FindByChatID(ctx, chatID)
	if errors.Is(err, domain.ErrRecordNotFound) {
		return emias.Credentials{}, Outcome{Notice: textNotOnboarded}, false
	}
	if err != nil {
		log.WithError(err).Error("failed to load record")
		return emias.Credentials{}, Outcome{Notice: failText}, false
	}
	if !record.Eligible() {
		return emias.Credentials{}, Outcome{Notice: textFillData}, false
	}

	creds, err := emias.CredentialsFor(record)
	if err != nil {
		log.WithError(err).Error("eligible record produced no credentials")
		return emias.Credentials{}, Outcome{Notice: failText}, false
	}

	return creds, Outcome{}, true
}

func (s *Service) observe(to string, ok bool) {
	if s.observer != nil {
		s.observer.ObserveTransition(to, ok)
	}
}
