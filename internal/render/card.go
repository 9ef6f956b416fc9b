package render

import (
	"fmt"
	"strings"

	"github.com/atc0005/go-teams-notify/v2/messagecard"

	"eventwatch/internal/event"
)

const (
	cardColorResults = "2EA9DE"
	cardColorEmpty   = "FFC107"

	// Teams truncates long cards; list at most this many events.
	cardMaxEvents = 10
)

// TeamsCard builds the chat notification for one run. The card is an
// aggregate summary over the full batch, not a per-group fan-out.
func TeamsCard(events []event.Event, rc Context) *messagecard.MessageCard {
	card := messagecard.NewMessageCard()
	card.Summary = Subject(len(events), rc.TypeLabel)

	if len(events) == 0 {
		card.Title = "Alerts | No Events Found"
		card.ThemeColor = cardColorEmpty
		card.Text = fmt.Sprintf("No events matching criteria were found in the last %d days.", rc.LookbackDays)
		return card
	}

	card.Title = fmt.Sprintf("Alerts | %d %s Event%s Found", len(events), titleWords(rc.TypeLabel), plural(len(events)))
	card.ThemeColor = cardColorResults

	summary := messagecard.NewSection()
	summary.ActivityTitle = "Report Summary"
	summary.ActivitySubtitle = rc.RunTime.Format("Monday, January 02, 2006 at 15:04 MST")
	_ = summary.AddFact(
		messagecard.SectionFact{Name: "Type", Value: rc.TypeName},
		messagecard.SectionFact{Name: "Period", Value: fmt.Sprintf("Last %d days", rc.LookbackDays)},
		messagecard.SectionFact{Name: "Frequency", Value: rc.Frequency},
		messagecard.SectionFact{Name: "Results", Value: fmt.Sprintf("**%d** event%s", len(events), plural(len(events)))},
	)
	_ = card.AddSection(summary)

	details := messagecard.NewSection()
	details.ActivityTitle = "Event Details"
	var b strings.Builder
	for i, e := range events {
		if i >= cardMaxEvents {
			fmt.Fprintf(&b, "_...and %d more event(s)_", len(events)-cardMaxEvents)
			break
		}
		fmt.Fprintf(&b, "**%d. %s**  \nCreated: %s  \n\n", i+1, e.Name, e.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	details.Text = b.String()
	_ = card.AddSection(details)

	footer := messagecard.NewSection()
	footer.Text = fmt.Sprintf("*Automated report from %s*", rc.CompanyName)
	_ = card.AddSection(footer)

	return card
}
