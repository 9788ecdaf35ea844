package message

import (
	"fmt"

	"golang.org/x/text/language"
)

// Validate checks locales and the tag selector.
func (a *Audience) Validate() error {
	if a == nil {
		return nil
	}
	for _, locale := range a.Locales {
		if _, err := language.Parse(locale); err != nil {
			return fmt.Errorf("invalid audience locale %q: %w", locale, err)
		}
	}
	if a.Tags != nil {
		if err := a.Tags.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks that exactly one operator is set, recursively.
func (s *TagSelector) Validate() error {
	set := 0
	if s.Tag != "" {
		set++
	}
	if len(s.And) > 0 {
		set++
	}
	if len(s.Or) > 0 {
		set++
	}
	if s.Not != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("tag selector must have exactly one of tag, and, or, not")
	}

	for i := range s.And {
		if err := s.And[i].Validate(); err != nil {
			return err
		}
	}
	for i := range s.Or {
		if err := s.Or[i].Validate(); err != nil {
			return err
		}
	}
	if s.Not != nil {
		return s.Not.Validate()
	}
	return nil
}

// Apply evaluates the selector against a set of device tags.
func (s *TagSelector) Apply(tags map[string]struct{}) bool {
	switch {
	case s.Tag != "":
		_, ok := tags[s.Tag]
		return ok
	case len(s.And) > 0:
		for i := range s.And {
			if !s.And[i].Apply(tags) {
				return false
			}
		}
		return true
	case len(s.Or) > 0:
		for i := range s.Or {
			if s.Or[i].Apply(tags) {
				return true
			}
		}
		return false
	case s.Not != nil:
		return !s.Not.Apply(tags)
	default:
		return false
	}
}
