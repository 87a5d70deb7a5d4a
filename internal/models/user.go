package models

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	MinAge        = 18
	MaxAge        = 100
	MinNameLength = 2
)

// Gender is the self-declared gender of a user.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// Valid reports whether g is one of the known genders.
func (g Gender) Valid() bool {
	switch g {
	case GenderMale, GenderFemale, GenderOther:
		return true
	}
	return false
}

// Preference is the gender a user wants to be matched with.
type Preference string

const (
	PreferenceMale   Preference = "male"
	PreferenceFemale Preference = "female"
	PreferenceBoth   Preference = "both"
)

// Valid reports whether p is one of the known preferences.
func (p Preference) Valid() bool {
	switch p {
	case PreferenceMale, PreferenceFemale, PreferenceBoth:
		return true
	}
	return false
}

// Accepts reports whether a partner of gender g satisfies the preference.
// Only "both" accepts GenderOther.
func (p Preference) Accepts(g Gender) bool {
	switch p {
	case PreferenceBoth:
		return true
	case PreferenceMale:
		return g == GenderMale
	case PreferenceFemale:
		return g == GenderFemale
	}
	return false
}

// UserProfile представляє анонімного користувача клієнта.
// The ID is generated once at onboarding and stays stable for the app lifetime.
type UserProfile struct {
	ID           string     `json:"userId"`
	Name         string     `json:"name"`
	Age          int        `json:"age"`
	Gender       Gender     `json:"gender"`
	Preference   Preference `json:"preference"`
	ProfileImage *string    `json:"profileImage,omitempty"`
}

// ValidationError describes every invalid field of a profile form.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, field := range []string{"userId", "name", "age", "gender", "preference"} {
		if msg, ok := e.Fields[field]; ok {
			parts = append(parts, field+": "+msg)
		}
	}
	return "invalid profile: " + strings.Join(parts, "; ")
}

// NewUserProfile validates onboarding input and assigns a fresh anonymous ID.
func NewUserProfile(name string, age int, gender Gender, preference Preference) (*UserProfile, error) {
	p := &UserProfile{
		ID:         uuid.New().String(),
		Name:       strings.TrimSpace(name),
		Age:        age,
		Gender:     gender,
		Preference: preference,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the same rules as onboarding. It returns a *ValidationError.
func (p *UserProfile) Validate() error {
	fields := make(map[string]string)

	if p.ID == "" {
		fields["userId"] = "is required"
	}

	name := strings.TrimSpace(p.Name)
	switch {
	case name == "":
		fields["name"] = "is required"
	case utf8.RuneCountInString(name) < MinNameLength:
		fields["name"] = fmt.Sprintf("must be at least %d characters", MinNameLength)
	}

	switch {
	case p.Age < MinAge:
		fields["age"] = fmt.Sprintf("must be at least %d", MinAge)
	case p.Age > MaxAge:
		fields["age"] = "is not a valid age"
	}

	if !p.Gender.Valid() {
		fields["gender"] = fmt.Sprintf("unknown value %q", p.Gender)
	}
	if !p.Preference.Valid() {
		fields["preference"] = fmt.Sprintf("unknown value %q", p.Preference)
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Complete reports whether the profile carries every matching attribute.
func (p *UserProfile) Complete() bool {
	return p != nil && p.Validate() == nil
}
