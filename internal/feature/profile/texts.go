package profile

import "emias_bot/internal/render"

const (
	helpHeader = "Доступны данные команды:"

	textStartFound    = "Пользователь с вашими данными найден. Обновление базы не требуется."
	textStartCreated  = "Пользователь с вашими данными не найден. Инициализирована новая запись. Используйте команду `/help` для получения справки."
	textStartFailed   = "Не удалось инициализировать запись. Попробуйте позже."
	textNotOnboarded  = render.TextNotOnboarded
	textBadInsurance  = "Полис должен быть указан в формате 16 чисел без дополнительных символов и пробелов."
	textBadBirthDate  = "Дата рождения должна быть указана в формате ДД.ММ.ГГГГ без дополнительных символов и пробелов."
	textInsuranceSet  = "Ваш новый полис ОМС %s."
	textBirthDateSet  = "Ваша новая дата рождения %s."
	textInsuranceFail = "Не удалось обновить ваш полис. Попробуйте позже."
	textBirthDateFail = "Не удалось обновить вашу дату рождения. Попробуйте позже."
	textInfo          = "Полис ОМС: %s; \nДата рождения: %s."
	textInfoFail      = "Не удалось получить ваши данные. Попробуйте позже."
	textNotSet        = "не указан"
	textStats         = "Записей: %d\nГотовы к опросу: %d"
	textStatsFail     = "Не удалось посчитать записи."
	textFillData      = render.TextFillData
)

// Command describes a slash command for /help and the command menu.
type Command struct {
	Name        string
	Description string
}

// Commands lists the public commands in help order.
var Commands = []Command{
	{Name: "help", Description: "показать этот текст."},
	{Name: "start", Description: "инициализировать вашу запись в боте."},
	{Name: "omscard", Description: "изменить номер полиса ОМС (16 цифр)."},
	{Name: "datebirth", Description: "изменить дату рождения (в формате ДД.ММ.ГГГГ)."},
	{Name: "info", Description: "показать актуальную информацию обо мне в системе."},
	{Name: "referrals", Description: "прислать сводку по направлениям сейчас."},
}
