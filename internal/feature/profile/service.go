// Package profile implements the chat commands that manage a chat's record.
package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"emias_bot/internal/domain"
	"emias_bot/internal/logging"
	"emias_bot/internal/render"
)

// RecordStore is the subset of the record repository used by commands.
type RecordStore interface {
	FindByChatID(ctx context.Context, chatID int64) (domain.Record, error)
	CreateForChat(ctx context.Context, chatID, userID int64) (domain.Record, bool, error)
	UpdateInsurance(ctx context.Context, chatID int64, value string) error
	UpdateBirthDate(ctx context.Context, chatID int64, value time.Time) error
}

// StatsSource reports record counts for the owner stats command.
type StatsSource interface {
	CountRecords(ctx context.Context) (int64, error)
	CountEligible(ctx context.Context) (int64, error)
}

// Reply is a text message with an optional inline keyboard.
type Reply struct {
	Text   string
	Markup *models.InlineKeyboardMarkup
}

// Service handles profile commands. Every method returns the reply to send;
// failures are logged and turned into fixed texts.
type Service struct {
	records RecordStore
	stats   StatsSource
	ownerID int64
	logger  *logrus.Entry
}

// NewService constructs a Service. stats may be nil, which disables /stats.
func NewService(records RecordStore, stats StatsSource, ownerID int64, logger *logrus.Entry) *Service {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Service{
		records: records,
		stats:   stats,
		ownerID: ownerID,
		logger:  logger,
	}
}

// Help lists the available commands.
func (s *Service) Help() Reply {
	var b strings.Builder
	b.WriteString(helpHeader)
	b.WriteString("\n\n")
	for _, cmd := range Commands {
		fmt.Fprintf(&b, "/%s - %s\n", cmd.Name, cmd.Description)
	}

	return Reply{Text: strings.TrimRight(b.String(), "\n")}
}

// Start creates the chat's record when it does not exist yet.
func (s *Service) Start(ctx context.Context, chatID, userID int64) Reply {
	_, created, err := s.records.CreateForChat(ctx, chatID, userID)
	if err != nil {
		s.log(chatID, userID, "record_create_failed").WithError(err).Error("failed to initialize record")
		return Reply{Text: textStartFailed}
	}

	if !created {
		return Reply{Text: textStartFound}
	}

	s.log(chatID, userID, "record_created").Info("initialized new record")
	return Reply{Text: textStartCreated}
}

// SetInsurance validates and stores a new insurance number. Invalid input is
// rejected before the store is touched.
func (s *Service) SetInsurance(ctx context.Context, chatID int64, arg string) Reply {
	value, err := domain.ValidateInsurance(arg)
	if err != nil {
		return Reply{Text: textBadInsurance}
	}

	if err := s.records.UpdateInsurance(ctx, chatID, value); err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			return Reply{Text: textNotOnboarded}
		}
		s.log(chatID, 0, "insurance_update_failed").WithError(err).Error("failed to update insurance number")
		return Reply{Text: textInsuranceFail}
	}

	return Reply{Text: fmt.Sprintf(textInsuranceSet, value)}
}

// SetBirthDate validates and stores a new birth date.
func (s *Service) SetBirthDate(ctx context.Context, chatID int64, arg string) Reply {
	value, err := domain.ParseBirthDate(arg)
	if err != nil {
		return Reply{Text: textBadBirthDate}
	}

	if err := s.records.UpdateBirthDate(ctx, chatID, value); err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			return Reply{Text: textNotOnboarded}
		}
		s.log(chatID, 0, "birth_date_update_failed").WithError(err).Error("failed to update birth date")
		return Reply{Text: textBirthDateFail}
	}

	return Reply{Text: fmt.Sprintf(textBirthDateSet, domain.FormatBirthDate(value))}
}

// Info shows the stored personal data. Eligible records also get the entry
// keyboard.
func (s *Service) Info(ctx context.Context, chatID int64) Reply {
	record, err := s.records.FindByChatID(ctx, chatID)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			return Reply{Text: textNotOnboarded}
		}
		s.log(chatID, 0, "record_lookup_failed").WithError(err).Error("failed to load record")
		return Reply{Text: textInfoFail}
	}

	insurance := textNotSet
	if record.InsuranceNumber != nil && *record.InsuranceNumber != "" {
		insurance = *record.InsuranceNumber
	}
	birthDate := textNotSet
	if record.BirthDate != nil {
		birthDate = domain.FormatBirthDate(*record.BirthDate)
	}

	reply := Reply{Text: fmt.Sprintf(textInfo, insurance, birthDate)}
	if record.Eligible() {
		reply.Markup = render.MainKeyboard()
	}

	return reply
}

// Referrals resolves the record for an on-demand digest. The boolean is true
// when the record is eligible; otherwise the reply explains what is missing.
func (s *Service) Referrals(ctx context.Context, chatID int64) (domain.Record, Reply, bool) {
	record, err := s.records.FindByChatID(ctx, chatID)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			return domain.Record{}, Reply{Text: textNotOnboarded}, false
		}
		s.log(chatID, 0, "record_lookup_failed").WithError(err).Error("failed to load record")
		return domain.Record{}, Reply{Text: textInfoFail}, false
	}

	if !record.Eligible() {
		return domain.Record{}, Reply{Text: textFillData}, false
	}

	return record, Reply{}, true
}

// Stats reports record counts to the bot owner. The boolean is false when the
// caller is not the owner and the command should be ignored.
func (s *Service) Stats(ctx context.Context, userID int64) (Reply, bool) {
	if s.ownerID == 0 || userID != s.ownerID || s.stats == nil {
		return Reply{}, false
	}

	total, err := s.stats.CountRecords(ctx)
	if err != nil {
		s.log(0, userID, "stats_failed").WithError(err).Error("failed to count records")
		return Reply{Text: textStatsFail}, true
	}
	eligible, err := s.stats.CountEligible(ctx)
	if err != nil {
		s.log(0, userID, "stats_failed").WithError(err).Error("failed to count eligible records")
		return Reply{Text: textStatsFail}, true
	}

	return Reply{Text: fmt.Sprintf(textStats, total, eligible)}, true
}

func (s *Service) log(chatID, userID int64, event string) *logrus.Entry {
	return logging.Enrich(s.logger, logging.Context{ChatID: chatID, UserID: userID, Event: event})
}
