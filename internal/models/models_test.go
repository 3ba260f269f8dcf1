package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShopLocation(t *testing.T) {
	rome, err := time.LoadLocation("Europe/Rome")
	assert.NoError(t, err)
	assert.Equal(t, rome, Shop{Timezone: "Europe/Rome"}.Location())

	// A bad or empty timezone falls back to UTC instead of failing.
	assert.Equal(t, time.UTC, Shop{Timezone: "Mars/Olympus"}.Location())
	assert.Equal(t, time.UTC, Shop{}.Location())
}

func TestTimeOfDay(t *testing.T) {
	tod := TimeOfDay{Hour: 15, Minute: 30}
	assert.Equal(t, 930, tod.Minutes())
	assert.Equal(t, "15:30", tod.String())

	day := time.Date(2025, time.March, 14, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, time.March, 14, 15, 30, 0, 0, time.UTC), tod.On(day))

	// On keeps the date's location.
	rome, _ := time.LoadLocation("Europe/Rome")
	dayRome := time.Date(2025, time.March, 14, 0, 0, 0, 0, rome)
	assert.Equal(t, rome, tod.On(dayRome).Location())
}

func TestShopConfigActiveFilters(t *testing.T) {
	cfg := ShopConfig{
		Services: []Service{
			{Name: "Taglio", Active: true},
			{Name: "Piega", Active: false},
			{Name: "Colore", Active: true},
		},
		Operators: []Operator{
			{Name: "Marco", Active: true},
			{Name: "Luca", Active: false},
		},
	}

	services := cfg.ActiveServices()
	assert.Len(t, services, 2)
	assert.Equal(t, "Taglio", services[0].Name, "catalog order kept")

	operators := cfg.ActiveOperators()
	assert.Len(t, operators, 1)
	assert.Equal(t, "Marco", operators[0].Name)
}
