package usecase

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/hashicorp/go-multierror"

	"livecast/internal/domain"
)

const (
	maxTitleRunes       = 140
	maxDescriptionRunes = 5000
)

// normalizeForm trims the form and defaults the message policy.
func normalizeForm(form domain.StreamForm) domain.StreamForm {
	form.Title = strings.TrimSpace(form.Title)
	form.Description = strings.TrimSpace(form.Description)
	form.CategoryID = strings.TrimSpace(form.CategoryID)
	form.ThumbnailPath = strings.TrimSpace(form.ThumbnailPath)
	if form.WhoCanMessage == "" {
		form.WhoCanMessage = domain.MessagePolicyEveryone
	}
	return form
}

// validateForm reports every problem with the form at once.
func validateForm(form domain.StreamForm, mode domain.SourceMode) error {
	var result *multierror.Error

	switch n := utf8.RuneCountInString(form.Title); {
	case n == 0:
		result = multierror.Append(result, errors.New("title is required"))
	case n > maxTitleRunes:
		result = multierror.Append(result, fmt.Errorf("title exceeds %d characters", maxTitleRunes))
	}
	if utf8.RuneCountInString(form.Description) > maxDescriptionRunes {
		result = multierror.Append(result, fmt.Errorf("description exceeds %d characters", maxDescriptionRunes))
	}
	switch form.WhoCanMessage {
	case domain.MessagePolicyEveryone, domain.MessagePolicyFollowers:
	default:
		result = multierror.Append(result, fmt.Errorf("whoCanMessage %q is not supported", form.WhoCanMessage))
	}
	if form.ThumbnailPath != "" {
		if info, err := os.Stat(form.ThumbnailPath); err != nil || info.IsDir() {
			result = multierror.Append(result, fmt.Errorf("thumbnail %q is not a readable file", form.ThumbnailPath))
		}
	}
	if !mode.Valid() {
		result = multierror.Append(result, fmt.Errorf("source mode %q is not supported", mode))
	}

	if result == nil {
		return nil
	}
	result.ErrorFormat = func(errs []error) string {
		parts := make([]string, 0, len(errs))
		for _, err := range errs {
			parts = append(parts, err.Error())
		}
		return strings.Join(parts, "; ")
	}
	return fmt.Errorf("%w: %v", domain.ErrInvalidForm, result)
}
