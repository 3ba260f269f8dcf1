package dialog

import (
	"fmt"
	"strings"
	"time"

	"prenotabot/internal/models"
)

// Outbound message texts. The bot speaks Italian, in the register of the
// shops it serves.

var weekdayNames = [...]string{"domenica", "lunedì", "martedì", "mercoledì", "giovedì", "venerdì", "sabato"}

var monthNames = [...]string{"", "gennaio", "febbraio", "marzo", "aprile", "maggio", "giugno",
	"luglio", "agosto", "settembre", "ottobre", "novembre", "dicembre"}

func formatDay(t time.Time) string {
	return fmt.Sprintf("%s %d %s", weekdayNames[int(t.Weekday())], t.Day(), monthNames[int(t.Month())])
}

func formatCandidate(c models.Candidate) string {
	return fmt.Sprintf("%s alle %s con %s", formatDay(c.Start), c.Start.Format("15:04"), c.Operator.Name)
}

func msgWelcome(shopName, lastService string) string {
	if lastService != "" {
		return fmt.Sprintf("Ciao! 👋 Sei in contatto con *%s* 💈\nL'ultima volta hai fatto: %s. Vuoi prenotare di nuovo? Dimmi giorno e ora 😊", shopName, lastService)
	}
	return fmt.Sprintf("Ciao! 👋 Sei in contatto con *%s* 💈\nDimmi quando vuoi prenotare 😊", shopName)
}

func msgAskService(services []models.Service) string {
	names := make([]string, len(services))
	for i, s := range services {
		names[i] = s.Name
	}
	return fmt.Sprintf("Che servizio ti serve? Ad esempio: %s", strings.Join(names, ", "))
}

func msgAskWhen() string {
	return "Perfetto 👍 Dimmi giorno e ora (es. domani alle 18)."
}

func msgAskDate() string {
	return "Che giorno preferisci? (es. domani, venerdì, 12/05)"
}

func msgAskTime(day time.Time) string {
	return fmt.Sprintf("A che ora %s? (es. alle 15, dopo le 16, mattina)", formatDay(day))
}

func msgOffers(serviceName string, offers []models.Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ecco le disponibilità per %s:\n", serviceName)
	for i, c := range offers {
		fmt.Fprintf(&b, "%d) %s\n", i+1, formatCandidate(c))
	}
	b.WriteString("Rispondi con il numero che preferisci 😊")
	return b.String()
}

func msgConfirm(serviceName string, c models.Candidate) string {
	return fmt.Sprintf("Ti confermo %s, %s. Va bene? (ok / annulla)", serviceName, formatCandidate(c))
}

func msgBooked(serviceName string, c models.Candidate) string {
	return fmt.Sprintf("✅ Prenotato! %s, %s. Ti aspettiamo 💈", serviceName, formatCandidate(c))
}

func msgSlotTaken(offers []models.Candidate) string {
	var b strings.Builder
	b.WriteString("Ops, qualcuno ha appena preso quell'orario 😕 Ecco altre disponibilità:\n")
	for i, c := range offers {
		fmt.Fprintf(&b, "%d) %s\n", i+1, formatCandidate(c))
	}
	b.WriteString("Rispondi con il numero che preferisci.")
	return b.String()
}

func msgNoAvailability() string {
	return "Mi dispiace, non ho trovato disponibilità 😔 Prova con un altro giorno o un altro orario."
}

func msgInvalidChoice(max int) string {
	return fmt.Sprintf("Non ho capito la scelta 🤔 Rispondi con un numero da 1 a %d.", max)
}

func msgCancelled() string {
	return "Va bene, ho annullato tutto 👍 Scrivimi quando vuoi prenotare di nuovo."
}

func msgApology() string {
	return "Scusa, ho un problema tecnico in questo momento 🙏 Riprova tra poco."
}

// MsgTextOnly is the fixed reply for non-text inbound messages.
func MsgTextOnly() string {
	return "Per ora capisco solo messaggi di testo ✍️ Scrivimi quando vuoi prenotare."
}

// MsgUnknownTenant asks for an onboarding code when no shop resolves.
func MsgUnknownTenant() string {
	return "Non riconosco questo numero 🤔 Se sei un negozio, inviami il tuo codice di attivazione."
}
