package services

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/hanko-field/clinic-commerce/internal/domain"
)

const maxFreeTextLength = 500

var strictText = bluemonday.StrictPolicy()

// sanitizeText strips markup from user supplied free text and bounds its length.
func sanitizeText(value string) string {
	cleaned := html.UnescapeString(strictText.Sanitize(strings.TrimSpace(value)))
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if utf8.RuneCountInString(cleaned) > maxFreeTextLength {
		runes := []rune(cleaned)
		cleaned = string(runes[:maxFreeTextLength])
	}
	return cleaned
}

func sanitizeContact(contact domain.ContactSnapshot) domain.ContactSnapshot {
	return domain.ContactSnapshot{
		Name:  sanitizeText(contact.Name),
		Phone: sanitizeText(contact.Phone),
		Email: strings.ToLower(sanitizeText(contact.Email)),
		Note:  sanitizeText(contact.Note),
	}
}
