package orchestratornode

import "strings"

// Phrases are the fixed replies the bot speaks outside of model output.
type Phrases struct {
	Clarify        string
	SlotsPrefix    string
	SlotFallback   string
	NoSlots        string
	SlotsFailed    string
	Booked         string
	BookingFailed  string
	Goodbye        string
	Apology        string
	GuestName      string
	SlotsSeparator string
}

func DefaultPhrases() Phrases {
	return Phrases{
		Clarify:        "Извините, я не расслышал. Повторите, пожалуйста.",
		SlotsPrefix:    "Вот ближайшие доступные слоты: ",
		SlotFallback:   "время",
		NoSlots:        "К сожалению, свободных слотов нет.",
		SlotsFailed:    "Извините, не удалось получить свободное время. Попробуйте позже.",
		Booked:         "Запись успешно создана!",
		BookingFailed:  "Не удалось создать запись.",
		Goodbye:        "Спасибо за звонок! До свидания.",
		Apology:        "Извините, произошла ошибка. Попробуйте, пожалуйста, ещё раз.",
		GuestName:      "Гость",
		SlotsSeparator: ", ",
	}
}

// WithDefaults fills every empty phrase from DefaultPhrases.
func (p Phrases) WithDefaults() Phrases {
	d := DefaultPhrases()
	fill := func(dst *string, def string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = def
		}
	}
	fill(&p.Clarify, d.Clarify)
	fill(&p.SlotsPrefix, d.SlotsPrefix)
	fill(&p.SlotFallback, d.SlotFallback)
	fill(&p.NoSlots, d.NoSlots)
	fill(&p.SlotsFailed, d.SlotsFailed)
	fill(&p.Booked, d.Booked)
	fill(&p.BookingFailed, d.BookingFailed)
	fill(&p.Goodbye, d.Goodbye)
	fill(&p.Apology, d.Apology)
	fill(&p.GuestName, d.GuestName)
	if p.SlotsSeparator == "" {
		p.SlotsSeparator = d.SlotsSeparator
	}
	return p
}
