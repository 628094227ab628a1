package service

import (
	"regexp"
	"strings"

	appErrors "github.com/unclebandit/voicecast-backend/internal/errors"
	"github.com/unclebandit/voicecast-backend/internal/model"
)

var templateVarPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// RenderTemplate substitutes {{var}} placeholders. Unknown variables
// render as an empty string.
func RenderTemplate(template string, data map[string]string) string {
	return templateVarPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := templateVarPattern.FindStringSubmatch(match)[1]
		return data[name]
	})
}

// PersonalizeMessage renders the template for one contact. The contact
// name binds {{name}}; custom fields bind their own keys.
func PersonalizeMessage(template string, contact model.Contact) string {
	data := map[string]string{"name": contact.Name, "phone": contact.Phone}
	for k, v := range contact.CustomFields {
		data[k] = v
	}
	return RenderTemplate(template, data)
}

// ValidateTemplate rejects templates with unbalanced or empty
// placeholders before any calls are enqueued.
func ValidateTemplate(template string) error {
	if strings.TrimSpace(template) == "" {
		return appErrors.NewValidation("message template cannot be empty")
	}

	stripped := templateVarPattern.ReplaceAllString(template, "")
	if strings.Contains(stripped, "{{") || strings.Contains(stripped, "}}") {
		return appErrors.NewValidation("message template has unbalanced or malformed {{variable}} placeholders")
	}
	return nil
}
