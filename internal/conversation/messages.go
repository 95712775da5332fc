package conversation

import (
	"fmt"

	"legit-bot/internal/storage"
)

// User-facing texts.
const (
	msgAskUsername       = "Podaj @username sprzedawcy"
	msgAskOwnUsername    = "Podaj swój @username sprzedawcy"
	msgBadUsername       = "To nie wygląda na poprawny @username (2–32 znaki: litery, cyfry, _ . -). Spróbuj jeszcze raz."
	msgAskComment        = "Dodaj komentarz (albo wpisz -)"
	msgAskCity           = "Podaj miasto działania sprzedawcy"
	msgBadCity           = "Miasto nie może być puste. Podaj miasto działania sprzedawcy"
	msgAskSellerDesc     = "Podaj krótki opis sprzedawcy (albo wpisz -)"
	msgAskReportDesc     = "Opisz krótko problem"
	msgBadReportDesc     = "Opis nie może być pusty. Opisz krótko problem"
	msgSellerNotFound    = "Nie ma takiego sprzedawcy w bazie."
	msgSellerExists      = "Ten sprzedawca już istnieje."
	msgAlreadyRated      = "Już oceniałeś tego sprzedawcę."
	msgAlreadyReported   = "Już zgłaszałeś tego sprzedawcę."
	msgSelfRating        = "Nie możesz ocenić własnego konta."
	msgAlreadyClaimed    = "To konto sprzedawcy jest już powiązane z innym użytkownikiem."
	msgSellerAdded       = "✅ Sprzedawca dodany."
	msgReportSaved       = "🚨 Zgłoszenie zapisane."
	msgVerified          = "✅ Konto zweryfikowane. Teraz możesz otrzymywać Legit Check!"
	msgCancelled         = "❎ Anulowano."
	msgFailed            = "⚠️ Coś poszło nie tak. Spróbuj wysłać odpowiedź jeszcze raz."
	noCommentPlaceholder = "-"
)

var criteria = [4]string{"jakość produktu", "czas dostawy", "komunikacja", "bezpieczeństwo transakcji"}

var scoreOptions = []string{"1", "2", "3", "4", "5"}

func msgAskScore(i int) string {
	return fmt.Sprintf("Oceń %s (%d/4) w skali 1–5", criteria[i], i+1)
}

func msgBadScore(i int) string {
	return fmt.Sprintf("Podaj liczbę 1–5 dla kryterium: %s", criteria[i])
}

func msgRatingSaved(s storage.Seller) string {
	return fmt.Sprintf("✅ Opinia zapisana.\n%s: ⭐ %.2f (%d opinii), %s",
		s.Username, s.AvgRating, s.RatingCount, RiskLabel(s.RiskStatus))
}

// RiskLabel renders a risk status for users.
func RiskLabel(r storage.RiskStatus) string {
	switch r {
	case storage.RiskNewUser:
		return "🆕 Nowy użytkownik"
	case storage.RiskVerifiedSafe:
		return "✅ Zweryfikowany – bezpieczny"
	case storage.RiskCaution:
		return "⚠️ Zachowaj ostrożność"
	case storage.RiskHighRisk:
		return "❗ Wysokie ryzyko"
	case storage.RiskBlacklisted:
		return "⛔ Czarna lista"
	}
	return string(r)
}

// SellerCard is the public summary of a seller.
func SellerCard(s storage.Seller) string {
	city := s.City
	if city == "" {
		city = "—"
	}
	verified := "nie"
	if s.OwnerID != 0 {
		verified = "tak"
	}
	return fmt.Sprintf("Sprzedawca: @%s\nMiasto: %s\nOcena: ⭐ %.2f (%d opinii)\nZgłoszenia: %d\nZweryfikowany: %s\nRyzyko: %s",
		s.Username, city, s.AvgRating, s.RatingCount, s.ReportsCount, verified, RiskLabel(s.RiskStatus))
}
