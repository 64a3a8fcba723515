package sync

import "strings"

// categoryRule assigns category when any keyword occurs in the combined text,
// or, with eduSender set, when the sender's domain ends in .edu.
type categoryRule struct {
	category  Category
	keywords  []string
	eduSender bool
}

// categoryRules are evaluated top to bottom; the first match wins.
var categoryRules = []categoryRule{
	{
		category: CategoryJobs,
		keywords: []string{"job", "career", "internship", "application", "interview", "hiring", "position", "opportunity", "linkedin"},
	},
	{
		category: CategoryEvents,
		keywords: []string{"event", "meeting", "conference", "workshop", "seminar", "invitation", "rsvp", "calendar"},
	},
	{
		category: CategoryFinance,
		keywords: []string{"payment", "bill", "invoice", "financial", "tuition", "scholarship", "loan", "bank", "fee"},
	},
	{
		category:  CategoryClass,
		keywords:  []string{"class", "course", "assignment", "grade", "professor", "lecture", "exam", "homework", "canvas", "blackboard"},
		eduSender: true,
	},
}

var relevanceKeywords = []string{
	"university", "college", "school", "academic", "student", "campus",
	"class", "course", "professor", "instructor", "assignment", "exam",
	"grade", "tuition", "scholarship", "financial aid", "career services",
	"internship", "job fair", "graduation", "transcript", "enrollment",
}

var educationalDomainMarkers = []string{".edu", "university", "college", "school"}

// IsRelevant reports whether a message belongs to the user's academic life and
// should be stored at all.
func IsRelevant(sender, subject, body string) bool {
	domain := senderDomain(sender)
	if containsAny(domain, educationalDomainMarkers) {
		return true
	}
	return containsAny(combinedText(subject, sender, body), relevanceKeywords)
}

// Categorize assigns the first matching category from categoryRules, or Other.
func Categorize(subject, sender, body string) Category {
	text := combinedText(subject, sender, body)
	eduSender := strings.HasSuffix(senderDomain(sender), ".edu")

	for _, rule := range categoryRules {
		if containsAny(text, rule.keywords) || (rule.eduSender && eduSender) {
			return rule.category
		}
	}
	return CategoryOther
}

func combinedText(subject, sender, body string) string {
	return strings.ToLower(subject + " " + sender + " " + body)
}

// senderDomain returns the lowercased part after the last '@', or the whole
// address when there is none.
func senderDomain(sender string) string {
	sender = strings.ToLower(strings.TrimSpace(sender))
	if at := strings.LastIndexByte(sender, '@'); at >= 0 {
		return sender[at+1:]
	}
	return sender
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
