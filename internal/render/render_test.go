package render

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventwatch/internal/event"
)

func testContext() Context {
	return Context{
		RunTime:       time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC),
		TypeLabel:     "permits",
		TypeName:      "Permits",
		StatusName:    "For Review",
		LookbackDays:  17,
		Frequency:     "1h",
		CompanyName:   "Prominence Maritime",
		EventsBaseURL: "https://example.test/events",
	}
}

func testEvents() []event.Event {
	return []event.Event{
		{
			ID:        101,
			Name:      "hot work aft deck",
			CreatedAt: time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC),
			Extra:     []event.Column{{Name: "vessel_name", Value: "MV Aurora"}},
		},
		{
			ID:        102,
			Name:      "hot work galley",
			CreatedAt: time.Date(2026, 8, 25, 11, 0, 0, 0, time.UTC),
			Extra:     []event.Column{{Name: "vessel_name", Value: "MV Boreas"}},
		},
	}
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "Alerts | 1 Permits Event Found", Subject(1, "permits"))
	assert.Equal(t, "Alerts | 3 Permits Events Found", Subject(3, "permits"))
	assert.Equal(t, "Alerts | 0 Unknown Events Found", Subject(0, ""))
}

func TestPlainText(t *testing.T) {
	text := PlainText(testEvents(), testContext())
	assert.Contains(t, text, "Found 2 event(s)")
	assert.Contains(t, text, "https://example.test/events/101")
	assert.Contains(t, text, "hot work galley")
	assert.Contains(t, text, "Vessel Name: MV Aurora")
	assert.Contains(t, text, "Prominence Maritime")
}

func TestPlainTextEmpty(t *testing.T) {
	text := PlainText(nil, testContext())
	assert.Contains(t, text, "No results found")
}

func TestHTMLIncludesIDsAndLinks(t *testing.T) {
	ids, html, err := HTML(testEvents(), testContext())
	require.NoError(t, err)

	assert.Equal(t, []int64{101, 102}, ids)
	assert.Contains(t, html, `href="https://example.test/events/101"`)
	assert.Contains(t, html, "hot work aft deck")
	assert.Contains(t, html, "<th>Vessel Name</th>")
	assert.Contains(t, html, "Lookback: 17 day(s)")
}

func TestHTMLEmpty(t *testing.T) {
	ids, html, err := HTML(nil, testContext())
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Contains(t, html, "No events found")
}

func TestHTMLEscapesEventNames(t *testing.T) {
	events := []event.Event{{ID: 1, Name: `<script>alert("x")</script>`, CreatedAt: time.Now()}}
	_, html, err := HTML(events, testContext())
	require.NoError(t, err)
	assert.NotContains(t, html, "<script>alert")
}

func TestTeamsCard(t *testing.T) {
	card := TeamsCard(testEvents(), testContext())
	assert.Contains(t, card.Title, "2 Permits Events Found")
	assert.Equal(t, cardColorResults, card.ThemeColor)
	require.Len(t, card.Sections, 3)
	assert.Contains(t, card.Sections[1].Text, "hot work aft deck")
}

func TestTeamsCardEmpty(t *testing.T) {
	card := TeamsCard(nil, testContext())
	assert.Contains(t, card.Title, "No Events Found")
	assert.Equal(t, cardColorEmpty, card.ThemeColor)
}

func TestTeamsCardTruncatesLongBatches(t *testing.T) {
	events := make([]event.Event, 0, cardMaxEvents+5)
	for i := 0; i < cardMaxEvents+5; i++ {
		events = append(events, event.Event{ID: int64(i), Name: "hot work", CreatedAt: time.Now()})
	}
	card := TeamsCard(events, testContext())
	require.Len(t, card.Sections, 3)
	assert.True(t, strings.Contains(card.Sections[1].Text, "5 more event(s)"), "expected truncation note")
}
