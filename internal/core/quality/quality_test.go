package quality

import (
	"testing"

	"listing-pipeline/internal/core/domain"
)

func strPtr(s string) *string { return &s }

func completeTransport() domain.ListingTransport {
	return domain.ListingTransport{
		Title:        "3-Bedroom Apartment on Lipowa in Krakow",
		Description:  "Bright flat near the river",
		Price:        750_000,
		Currency:     "PLN",
		Area:         64,
		Rooms:        3,
		City:         "Krakow",
		Street:       strPtr("Lipowa"),
		PropertyType: domain.PropertyTypeApartment,
		Keywords:     []string{"balcony"},
		ImageURLs:    []string{"https://cdn.example.com/a.jpg"},
	}
}

func TestResolveStatusIsTotal(t *testing.T) {
	for mask := 0; mask < 8; mask++ {
		tr := completeTransport()
		missing := 0
		if mask&1 != 0 {
			tr.Price = 0
			missing++
		}
		if mask&2 != 0 {
			tr.Area = 0
			missing++
		}
		if mask&4 != 0 {
			tr.City = "unknown"
			missing++
		}

		want := domain.StatusIncomplete
		switch missing {
		case 0:
			want = domain.StatusAvailable
		case 3:
			want = domain.StatusFailed
		}

		got := Evaluate(tr)
		if got.Status != want {
			t.Errorf("mask %03b: Status = %s, want %s", mask, got.Status, want)
		}
		if len(got.Errors) != missing {
			t.Errorf("mask %03b: %d errors, want %d", mask, len(got.Errors), missing)
		}
	}
}

func TestValidateCity(t *testing.T) {
	tests := []struct {
		city    string
		wantErr bool
	}{
		{"Krakow", false},
		{"", true},
		{"   ", true},
		{"Unknown", true},
	}
	for _, tc := range tests {
		tr := completeTransport()
		tr.City = tc.city
		_, gotErr := Validate(tr)[FieldCity]
		if gotErr != tc.wantErr {
			t.Errorf("Validate(city=%q) error = %v, want %v", tc.city, gotErr, tc.wantErr)
		}
	}
}

func TestScoreMonotonic(t *testing.T) {
	if got := Score(completeTransport()); got != MaxScore {
		t.Fatalf("Score(complete) = %d, want %d", got, MaxScore)
	}

	tests := []struct {
		name   string
		remove func(*domain.ListingTransport)
		weight int
	}{
		{"street", func(tr *domain.ListingTransport) { tr.Street = nil }, WeightStreet},
		{"blank street", func(tr *domain.ListingTransport) { tr.Street = strPtr(" ") }, WeightStreet},
		{"rooms", func(tr *domain.ListingTransport) { tr.Rooms = 0 }, WeightRooms},
		{"description", func(tr *domain.ListingTransport) { tr.Description = "" }, WeightDescription},
		{"type", func(tr *domain.ListingTransport) { tr.PropertyType = domain.PropertyTypeUnknown }, WeightType},
		{"keywords", func(tr *domain.ListingTransport) { tr.Keywords = nil }, WeightKeywords},
		{"images", func(tr *domain.ListingTransport) { tr.ImageURLs = nil }, WeightImages},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tr := completeTransport()
			tc.remove(&tr)
			if got := Score(tr); got != MaxScore-tc.weight {
				t.Errorf("Score() = %d, want %d", got, MaxScore-tc.weight)
			}
		})
	}
}

func TestScoreBounds(t *testing.T) {
	empty := domain.ListingTransport{}
	want := MaxScore - WeightStreet - WeightRooms - WeightDescription - WeightType - WeightKeywords - WeightImages
	if got := Score(empty); got != want || got < 0 {
		t.Errorf("Score(empty) = %d, want %d", got, want)
	}
}

func TestScoreIndependentOfCriticalFields(t *testing.T) {
	tr := completeTransport()
	tr.Price, tr.Area, tr.City = 0, 0, ""
	if got := Score(tr); got != MaxScore {
		t.Errorf("Score() = %d, want %d", got, MaxScore)
	}
}
