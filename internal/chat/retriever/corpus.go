package retriever

import (
	"context"
	"strings"
	"unicode"

	"github.com/travelmate-poc/server/internal/chat/model"
)

// KeywordRetriever ranks the embedded travel knowledge base by term
// overlap. It is the zero-infrastructure default backend.
type KeywordRetriever struct {
	corpus []model.Passage
}

func NewKeywordRetriever(corpus []model.Passage) *KeywordRetriever {
	if corpus == nil {
		corpus = TravelKnowledge
	}
	return &KeywordRetriever{corpus: corpus}
}

func (r *KeywordRetriever) Name() string { return "keyword" }

func (r *KeywordRetriever) Search(_ context.Context, query string, topK int) ([]model.Passage, error) {
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	var matched []model.Passage
	for _, p := range r.corpus {
		score := overlapScore(terms, p)
		if score <= 0 {
			continue
		}
		p.Score = score
		matched = append(matched, p)
	}

	rankDescending(matched)
	if len(matched) > topK {
		matched = matched[:topK]
	}
	return matched, nil
}

// overlapScore is the fraction of query terms found in the passage, with
// title hits weighted double. Values land in (0, 2].
func overlapScore(terms []string, p model.Passage) float64 {
	title := strings.ToLower(p.Title)
	content := strings.ToLower(p.Content)

	var hits float64
	for _, t := range terms {
		switch {
		case strings.Contains(title, t):
			hits += 2
		case strings.Contains(content, t):
			hits++
		}
	}
	return hits / float64(len(terms))
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	terms := fields[:0]
	for _, f := range fields {
		if len(f) >= 3 && !stopwords[f] {
			terms = append(terms, f)
		}
	}
	return terms
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "what": true,
	"where": true, "how": true, "can": true, "you": true, "tell": true,
	"about": true, "with": true, "your": true, "any": true, "some": true,
}

// TravelKnowledge is the embedded knowledge base the demo corpus ships
// with, mirroring the travel-guide content the assistant answers from.
var TravelKnowledge = []model.Passage{
	{
		ID:     "doc-paris-attractions",
		Title:  "Paris Attractions",
		Source: "guides/paris_attractions.md",
		Content: "Paris rewards travelers who plan around its headline sights. The Eiffel Tower is " +
			"best visited at opening time or after dark when the hourly light show runs. The Louvre " +
			"needs timed tickets; Wednesday and Friday evenings are the quietest. Notre-Dame's " +
			"forecourt and the Sainte-Chapelle stained glass are a short walk apart on the Ile de la " +
			"Cite. Montmartre and the Sacre-Coeur give the best sunset views over the city, and a " +
			"Seine river cruise covers most monuments in an hour.",
	},
	{
		ID:     "doc-paris-food",
		Title:  "Eating Well in Paris",
		Source: "guides/paris_food.md",
		Content: "Skip restaurants within sight of major monuments and walk two streets away for " +
			"half-price menus. A classic bistro lunch formule runs 15-20 euros. Markets such as " +
			"Marche d'Aligre and Rue Cler are ideal for picnic supplies. Bakeries award-listed for " +
			"the best baguette display a 'Grand Prix' sticker. Dinner service rarely starts before " +
			"19:30, and tap water (une carafe d'eau) is always free.",
	},
	{
		ID:     "doc-europe-budget",
		Title:  "Budget Travel Tips for Europe",
		Source: "guides/europe_budget.md",
		Content: "Shoulder season (April-May, September-October) cuts accommodation prices by a " +
			"third across most of Europe. Book high-speed trains 60-90 days ahead for the cheapest " +
			"fares, or use budget coaches between secondary cities. City tourist cards pay off only " +
			"if you visit three or more paid attractions per day. Hostels with kitchens, bakery " +
			"breakfasts, and lunch-menu dining keep food costs near 25 euros a day. Many national " +
			"museums across the EU are free on the first Sunday of each month.",
	},
	{
		ID:     "doc-family-travel",
		Title:  "Family Travel Advice",
		Source: "guides/family_travel.md",
		Content: "Traveling with children works best at a pace of one anchor activity per day. " +
			"Apartment rentals beat hotel rooms for families: kitchens, laundry, and separate " +
			"sleeping space matter more than location. Night trains and early flights are easier " +
			"with kids than midday departures that burn the whole day. Most European cities offer " +
			"free transit for children under six, and parks with playgrounds appear on most transit " +
			"maps. Pack one small surprise activity per travel day for delays.",
	},
	{
		ID:     "doc-europe-rail",
		Title:  "Getting Around Europe by Rail",
		Source: "guides/europe_rail.md",
		Content: "Europe's high-speed network links most capitals in under six hours: Paris-London " +
			"2h20, Paris-Amsterdam 3h20, Paris-Barcelona 6h30. Rail passes pay off for four or more " +
			"long legs in a month; otherwise point-to-point advance fares are cheaper. Seat " +
			"reservations are mandatory on French and Spanish high-speed trains even with a pass. " +
			"Regional trains need no reservation and accept bikes. Overnight routes like the " +
			"Nightjet save a hotel night between Austria, Germany, and Italy.",
	},
	{
		ID:     "doc-packing",
		Title:  "Packing for a European Trip",
		Source: "guides/packing.md",
		Content: "One carry-on per person is the rule that saves the most money and time on " +
			"European trips. Budget airlines enforce strict size limits, and train luggage racks " +
			"fit cabin bags best. Bring a universal adapter (type C/E plugs cover the continent), " +
			"comfortable walking shoes broken in before departure, and a thin rain layer year " +
			"round. Leave space for purchases; most cities have laundromats for trips over a week.",
	},
	{
		ID:     "doc-paris-daytrips",
		Title:  "Day Trips from Paris",
		Source: "guides/paris_daytrips.md",
		Content: "Versailles is 40 minutes on RER C; go on a weekday and reserve a palace time " +
			"slot before touring the free gardens. Giverny's Monet gardens run April to October via " +
			"train to Vernon plus shuttle. Reims pairs champagne-house tours with a UNESCO " +
			"cathedral, one hour by TGV. Disneyland Paris sits on RER A, and Chartres' cathedral " +
			"is an easy hour by direct train from Montparnasse.",
	},
	{
		ID:     "doc-travel-safety",
		Title:  "Staying Safe and Insured",
		Source: "guides/safety_insurance.md",
		Content: "Pickpocketing near major attractions is the main risk for visitors in European " +
			"capitals; keep phones zipped and ignore petition clipboards. The EU-wide emergency " +
			"number is 112. Travel insurance should cover medical care, trip interruption, and " +
			"gear; EHIC/GHIC cards cover EU citizens for state healthcare only. Photograph your " +
			"passport and store copies separately from the original.",
	},
}
