package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRelevant(t *testing.T) {
	tests := []struct {
		name    string
		sender  string
		subject string
		body    string
		want    bool
	}{
		{"edu domain", "registrar@mit.edu", "Hello", "", true},
		{"university domain", "news@stateuniversity.org", "Newsletter", "", true},
		{"keyword in subject", "friend@gmail.com", "Exam schedule", "", true},
		{"keyword in body", "friend@gmail.com", "Hi", "see you on campus", true},
		{"multi word keyword", "noreply@bank.com", "Update", "Your Financial Aid package", true},
		{"case insensitive", "friend@gmail.com", "TRANSCRIPT ready", "", true},
		{"irrelevant", "friend@gmail.com", "Lunch?", "See you at noon", false},
		{"keyword in sender address", "school@gmail.com", "Lunch", "noon", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRelevant(tt.sender, tt.subject, tt.body))
		})
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		sender  string
		body    string
		want    Category
	}{
		{"jobs beats events", "Job fair at the conference", "events@corp.com", "", CategoryJobs},
		{"events", "Workshop invitation", "club@gmail.com", "", CategoryEvents},
		{"finance", "Tuition invoice", "bursar@gmail.com", "", CategoryFinance},
		{"class keyword", "Homework 3", "ta@gmail.com", "", CategoryClass},
		{"class by edu sender", "Hello there", "someone@uni.edu", "", CategoryClass},
		{"other", "Hello there", "someone@gmail.com", "nothing", CategoryOther},
		{"career center", "Internship opportunity", "jobs@university.edu", "Apply now", CategoryJobs},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Categorize(tt.subject, tt.sender, tt.body))
		})
	}
}

func TestCategoryValid(t *testing.T) {
	for _, c := range Categories {
		assert.True(t, c.Valid())
	}
	assert.False(t, Category("Spam").Valid())
	assert.False(t, Category("").Valid())
}
