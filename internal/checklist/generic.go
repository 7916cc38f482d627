package checklist

import (
	"fmt"

	"github.com/sells-group/visa-checklist/internal/country"
	"github.com/sells-group/visa-checklist/internal/model"
)

var genericExplanations = map[string]string{
	"en": "Part of the approved document list for a %[2]s visa to %[1]s.",
	"ru": "Входит в утверждённый перечень документов. Страна назначения: %[1]s, тип визы: %[2]s.",
	"uz": "Tasdiqlangan hujjatlar ro'yxatiga kiradi. Manzil davlat: %[1]s, viza turi: %[2]s.",
}

var genericSummaries = map[string]string{
	"en": "Documents for a %[2]s visa to %[1]s, based on the approved requirements.",
	"ru": "Документы по утверждённым требованиям. Страна назначения: %[1]s, тип визы: %[2]s.",
	"uz": "Tasdiqlangan talablar asosidagi hujjatlar. Manzil davlat: %[1]s, viza turi: %[2]s.",
}

// fallbackNotes accompany the rules-only checklist: a reminder to confirm
// with the destination's embassy (%s is the country) and a note that
// personalized guidance was unavailable.
var fallbackNotes = map[string][2]string{
	"en": {
		"This is a basic checklist. Confirm the requirements with the embassy or consulate of %s before you apply.",
		"Personalized guidance is unavailable right now, so the list shows the approved requirements only.",
	},
	"ru": {
		"Это базовый перечень. Перед подачей уточните требования в посольстве или консульстве. Страна назначения: %s.",
		"Персональные рекомендации сейчас недоступны, поэтому показаны только утверждённые требования.",
	},
	"uz": {
		"Bu asosiy ro'yxat. Ariza topshirishdan oldin talablarni elchixona yoki konsullikda aniqlang. Manzil davlat: %s.",
		"Shaxsiy tavsiyalar hozircha mavjud emas, shuning uchun faqat tasdiqlangan talablar ko'rsatilgan.",
	},
}

func genericNotes(cctx model.CanonicalContext) []string {
	lang := cctx.Profile.Language
	notes, ok := fallbackNotes[lang]
	if !ok {
		lang, notes = "en", fallbackNotes["en"]
	}
	return []string{fmt.Sprintf(notes[0], country.Name(cctx.CountryCode(), lang)), notes[1]}
}

func genericExplanation(cctx model.CanonicalContext) string {
	return generic(genericExplanations, cctx)
}

func genericSummary(cctx model.CanonicalContext) string {
	return generic(genericSummaries, cctx)
}

func generic(templates map[string]string, cctx model.CanonicalContext) string {
	lang := cctx.Profile.Language
	tmpl, ok := templates[lang]
	if !ok {
		lang, tmpl = "en", templates["en"]
	}
	return fmt.Sprintf(tmpl, country.Name(cctx.CountryCode(), lang), cctx.VisaType())
}
