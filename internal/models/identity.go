package models

import (
	"errors"
	"sync"
)

// ErrNoProfile is returned when an operation needs a profile and none is set.
var ErrNoProfile = errors.New("no user profile")

// ProfileUpdate carries the editable fields of a profile. Nil fields are left as is.
type ProfileUpdate struct {
	Name         *string
	Age          *int
	Gender       *Gender
	Preference   *Preference
	ProfileImage *string
}

// Identity holds the profile of the person using this client.
// There is exactly one Identity per running client and it is passed
// explicitly to whoever needs it.
type Identity struct {
	mu      sync.RWMutex
	profile *UserProfile
}

// NewIdentity returns an Identity, optionally seeded with a profile.
func NewIdentity(p *UserProfile) *Identity {
	id := &Identity{}
	if p != nil {
		cp := *p
		id.profile = &cp
	}
	return id
}

// Set replaces the current profile after validating it.
func (i *Identity) Set(p *UserProfile) error {
	if p == nil {
		return ErrNoProfile
	}
	if err := p.Validate(); err != nil {
		return err
	}
	cp := *p
	i.mu.Lock()
	i.profile = &cp
	i.mu.Unlock()
	return nil
}

// Current returns a copy of the current profile.
func (i *Identity) Current() (UserProfile, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.profile == nil {
		return UserProfile{}, false
	}
	return *i.profile, true
}

// Update applies u to the current profile. The ID never changes and the
// result must still pass validation, otherwise nothing is modified.
func (i *Identity) Update(u ProfileUpdate) (UserProfile, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.profile == nil {
		return UserProfile{}, ErrNoProfile
	}

	next := *i.profile
	if u.Name != nil {
		next.Name = *u.Name
	}
	if u.Age != nil {
		next.Age = *u.Age
	}
	if u.Gender != nil {
		next.Gender = *u.Gender
	}
	if u.Preference != nil {
		next.Preference = *u.Preference
	}
	if u.ProfileImage != nil {
		img := *u.ProfileImage
		next.ProfileImage = &img
	}

	if err := next.Validate(); err != nil {
		return UserProfile{}, err
	}
	i.profile = &next
	return next, nil
}

// Logout clears the profile.
func (i *Identity) Logout() {
	i.mu.Lock()
	i.profile = nil
	i.mu.Unlock()
}
