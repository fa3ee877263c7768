// Package render turns API entities into chat text and inline keyboards.
package render

import (
	"fmt"
	"strings"
	"time"

	"emias_bot/internal/emias"
)

const (
	dateLayout = "02.01.2006"

	DigestHeader = "Ваши направления: \n"
	NoSlots      = "Нет записей.\n"
	NoProviders  = "- Нет врачей по данному направлению.\n"

	// Replies shared by commands and keyboard callbacks.
	TextNotOnboarded = "Не найдена запись с вашим id в системе бота. Попробуйте заново использовать команду `/start`."
	TextFillData     = "Укажите полис ОМС командой /omscard и дату рождения командой /datebirth, чтобы посмотреть направления."
)

// FormatDate renders a date as DD.MM.YYYY.
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}

// SlotLines lists the availability date of every resource that has a room.
// When none has a room the single fixed line NoSlots is returned.
func SlotLines(resources []emias.Resource) string {
	var b strings.Builder
	for _, resource := range resources {
		if resource.Room == nil || resource.Room.AvailabilityDate.IsZero() {
			continue
		}
		fmt.Fprintf(&b, "[%s] \n", FormatDate(resource.Room.AvailabilityDate.Time))
	}

	if b.Len() == 0 {
		return NoSlots
	}

	b.WriteString("\n")
	return b.String()
}

// ProvidersBlock renders each provider in a listing followed by its slots.
// The block always ends with a blank line.
func ProvidersBlock(listing emias.Listing) string {
	var b strings.Builder

	switch listing.Kind {
	case emias.KindLdps:
		for _, ldp := range listing.Ldps {
			fmt.Fprintf(&b, "- %s: \n", ldp.Name)
			b.WriteString(SlotLines(ldp.ComplexResource))
		}
	case emias.KindDoctors:
		for _, doctor := range listing.Doctors {
			fmt.Fprintf(&b, "- %s: \n", doctor.FullName())
			b.WriteString(SlotLines(doctor.ComplexResource))
		}
	}

	if b.Len() == 0 {
		b.WriteString(NoProviders)
	}

	b.WriteString("\n")
	return b.String()
}

// ReferralLine renders "[start - end] name".
func ReferralLine(referral emias.Referral) string {
	return fmt.Sprintf("[%s - %s] %s\n",
		FormatDate(referral.StartTime.Time),
		FormatDate(referral.EndTime.Time),
		referral.Name(),
	)
}
