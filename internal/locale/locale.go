package locale

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys. The English text doubles as the key.
const (
	Announcement   = "Number %s, go to %s"
	YourNumber     = "Your queue number"
	ServiceLine    = "Service: %s"
	PrintedAt      = "Printed at: %s"
	ScanForStatus  = "Scan the QR code to see your queue status."
	NoWaitingTitle = "No waiting ticket"
)

var supported = []language.Tag{language.English, language.Indonesian}

var translations = map[language.Tag]map[string]string{
	language.Indonesian: {
		Announcement:   "Nomor antrian, %s, menuju ke, %s",
		YourNumber:     "Nomor Antrian Anda",
		ServiceLine:    "Layanan: %s",
		PrintedAt:      "Dicetak pada: %s",
		ScanForStatus:  "Silakan scan QR Code untuk melihat status antrian Anda.",
		NoWaitingTitle: "Tidak ada antrian",
	},
}

var (
	messages = newCatalog()
	matcher  = language.NewMatcher(supported)
)

func newCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for _, key := range []string{Announcement, YourNumber, ServiceLine, PrintedAt, ScanForStatus, NoWaitingTitle} {
		_ = b.SetString(language.English, key, key)
	}
	for tag, entries := range translations {
		for key, msg := range entries {
			_ = b.SetString(tag, key, msg)
		}
	}
	return b
}

// Match maps a BCP 47 tag such as "id-ID" to the closest supported
// language. Unknown or malformed tags fall back to English.
func Match(tag string) language.Tag {
	parsed, err := language.Parse(tag)
	if err != nil {
		return language.English
	}
	_, idx, confidence := matcher.Match(parsed)
	if confidence == language.No {
		return language.English
	}
	return supported[idx]
}

func NewPrinter(tag string) *message.Printer {
	return message.NewPrinter(Match(tag), message.Catalog(messages))
}
