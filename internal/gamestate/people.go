package gamestate

import (
	"fmt"
	"unicode/utf8"

	"ascend/internal/domain"
)

func (s *State) stakeholderIndex(id string) int {
	for i, sh := range s.stakeholder {
		if sh.ID == id {
			return i
		}
	}
	return -1
}

func (s *State) Stakeholder(id string) (domain.Stakeholder, bool) {
	if i := s.stakeholderIndex(id); i >= 0 {
		return s.stakeholder[i], true
	}
	return domain.Stakeholder{}, false
}

func (s *State) Stakeholders() []domain.Stakeholder {
	return append([]domain.Stakeholder(nil), s.stakeholder...)
}

// UpdateStakeholder sets the identified flag and/or the attitude.
func (s *State) UpdateStakeholder(id string, identified *bool, attitude domain.Attitude) error {
	i := s.stakeholderIndex(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownStakeholder, id)
	}
	if identified != nil {
		s.stakeholder[i].IsIdentified = *identified
	}
	if attitude != "" {
		if !attitude.Valid() {
			return fmt.Errorf("stakeholder %s: unknown attitude %q", id, attitude)
		}
		s.stakeholder[i].Attitude = attitude
	}
	return nil
}

func (s *State) IdentifyStakeholder(id string) error {
	identified := true
	return s.UpdateStakeholder(id, &identified, "")
}

// DecomposeStakeholder replaces a broad group with its predefined children.
// Each child is marked identified and tagged with the parent's id. Children
// already in the register are left alone.
func (s *State) DecomposeStakeholder(parentID string) ([]string, error) {
	children, ok := s.seed.Decompositions[parentID]
	if !ok || len(children) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoDecomposition, parentID)
	}
	at := s.stakeholderIndex(parentID)
	if at >= 0 {
		s.stakeholder = append(s.stakeholder[:at], s.stakeholder[at+1:]...)
	} else {
		at = len(s.stakeholder)
	}
	var added []domain.Stakeholder
	ids := make([]string, 0, len(children))
	for _, c := range children {
		ids = append(ids, c.ID)
		if s.stakeholderIndex(c.ID) >= 0 {
			continue
		}
		c.ParentStakeholderID = parentID
		c.IsIdentified = true
		added = append(added, c)
	}
	rest := append([]domain.Stakeholder(nil), s.stakeholder[at:]...)
	s.stakeholder = append(append(s.stakeholder[:at], added...), rest...)
	return ids, nil
}

func (s *State) contactIndex(id string) int {
	for i, c := range s.contacts {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (s *State) Contact(id string) (domain.Contact, bool) {
	if i := s.contactIndex(id); i >= 0 {
		return s.contacts[i], true
	}
	return domain.Contact{}, false
}

// Contacts returns the unlocked contacts.
func (s *State) Contacts() []domain.Contact {
	var out []domain.Contact
	for _, c := range s.contacts {
		if c.IsUnlocked {
			out = append(out, c)
		}
	}
	return out
}

func (s *State) UnlockContact(id string, unread bool) error {
	i := s.contactIndex(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownContact, id)
	}
	s.contacts[i].IsUnlocked = true
	if unread {
		s.contacts[i].HasUnread = true
	}
	return nil
}

// MarkContactRead clears the unread badge.
func (s *State) MarkContactRead(id string) error {
	i := s.contactIndex(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownContact, id)
	}
	s.contacts[i].HasUnread = false
	return nil
}

// RecordMessage updates the contact's preview and, unless the player is
// looking at the conversation, its unread badge.
func (s *State) RecordMessage(id, text string, viewing bool) error {
	i := s.contactIndex(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownContact, id)
	}
	s.contacts[i].LastMessage = preview(text)
	if !viewing {
		s.contacts[i].HasUnread = true
	}
	return nil
}

func preview(text string) string {
	if utf8.RuneCountInString(text) <= previewLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:previewLength]) + "..."
}
