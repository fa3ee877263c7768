package render

import (
	"strings"

	"github.com/go-telegram/bot/models"

	"emias_bot/internal/emias"
	"emias_bot/internal/session"
)

const (
	ButtonBook = "Записаться"
	ButtonBack = "Назад"
	ButtonHome = "В начало"
	// ButtonNoProviders labels the informational button for empty listings.
	ButtonNoProviders = "Нет врачей по данному направлению."
	// buttonUnnamed replaces empty labels, which Telegram rejects.
	buttonUnnamed = "Без названия"
)

// MainKeyboard is the entry keyboard attached to digests and /info.
func MainKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{button(ButtonBook, session.Callback{Action: session.ActionGetReferrals})},
		},
	}
}

// ReferralsKeyboard has one button per referral plus a back button.
func ReferralsKeyboard(referrals []emias.Referral) *models.InlineKeyboardMarkup {
	rows := make([][]models.InlineKeyboardButton, 0, len(referrals)+1)
	for _, referral := range referrals {
		rows = append(rows, []models.InlineKeyboardButton{
			button(referral.Name(), session.Callback{Action: session.ActionGetDoctors, ReferralID: referral.ID}),
		})
	}
	rows = append(rows, []models.InlineKeyboardButton{
		button(ButtonBack, session.Callback{Action: session.ActionBackToMain}),
	})

	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// ProvidersKeyboard lists the doctors or facilities of a listing. Provider
// buttons are informational.
func ProvidersKeyboard(listing emias.Listing) *models.InlineKeyboardMarkup {
	noop := session.Callback{Action: session.ActionNoop}
	var rows [][]models.InlineKeyboardButton

	switch listing.Kind {
	case emias.KindDoctors:
		for _, doctor := range listing.Doctors {
			rows = append(rows, []models.InlineKeyboardButton{button(doctor.FullName(), noop)})
		}
	case emias.KindLdps:
		for _, ldp := range listing.Ldps {
			rows = append(rows, []models.InlineKeyboardButton{button(ldp.Name, noop)})
		}
	}

	if len(rows) == 0 {
		rows = append(rows, []models.InlineKeyboardButton{button(ButtonNoProviders, noop)})
	}

	rows = append(rows, []models.InlineKeyboardButton{
		button(ButtonBack, session.Callback{Action: session.ActionGetReferrals}),
		button(ButtonHome, session.Callback{Action: session.ActionBackToMain}),
	})

	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func button(text string, cb session.Callback) models.InlineKeyboardButton {
	if strings.TrimSpace(text) == "" {
		text = buttonUnnamed
	}
	return models.InlineKeyboardButton{Text: text, CallbackData: cb.Data()}
}
