// Package domain holds the sync engine's core types, error taxonomy and storage ports.
package domain

import (
	"fmt"
	"strings"
)

// Provider identifies one of the three integrated external platforms.
type Provider string

const (
	// ProviderActivity is the Strava-like activity service.
	ProviderActivity Provider = "ACTIVITY"
	// ProviderWearable is the Garmin-like wearable service.
	ProviderWearable Provider = "WEARABLE"
	// ProviderNutrition is the MyFitnessPal-like nutrition service.
	ProviderNutrition Provider = "NUTRITION"
)

// Providers returns every supported provider in a stable order.
func Providers() []Provider {
	return []Provider{ProviderActivity, ProviderWearable, ProviderNutrition}
}

// Valid reports whether p is a supported provider.
func (p Provider) Valid() bool {
	switch p {
	case ProviderActivity, ProviderWearable, ProviderNutrition:
		return true
	}
	return false
}

// Slug is the lowercase form used in URLs, metric labels and config keys.
func (p Provider) Slug() string {
	return strings.ToLower(string(p))
}

func (p Provider) String() string { return string(p) }

// ParseProvider accepts either the enum form or its slug.
func ParseProvider(value string) (Provider, error) {
	p := Provider(strings.ToUpper(strings.TrimSpace(value)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, value)
	}
	return p, nil
}
