package syncx

import (
	"testing"
	"time"
)

func TestEncodeCursor(t *testing.T) {
	tests := []struct {
		name     string
		marker   Marker
		expected string
	}{
		{
			name:     "normal marker",
			marker:   Marker{Time: time.UnixMilli(1730635200000).UTC(), ID: 42},
			expected: "MTczMDYzNTIwMDAwMHw0Mg",
		},
		{
			name:     "zero timestamp with id",
			marker:   Marker{Time: time.UnixMilli(0).UTC(), ID: 7},
			expected: "MHw3",
		},
		{
			name:     "zero value marker",
			marker:   Marker{},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EncodeCursor(tt.marker)
			if got != tt.expected {
				t.Errorf("EncodeCursor() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestDecodeCursor(t *testing.T) {
	tests := []struct {
		name      string
		encoded   string
		wantMs    int64
		wantID    int64
		wantValid bool
	}{
		{
			name:      "valid cursor",
			encoded:   "MTczMDYzNTIwMDAwMHw0Mg",
			wantMs:    1730635200000,
			wantID:    42,
			wantValid: true,
		},
		{
			name:      "empty string",
			encoded:   "",
			wantValid: false,
		},
		{
			name:      "not base64",
			encoded:   "!!!not-base64!!!",
			wantValid: false,
		},
		{
			name:      "missing separator",
			encoded:   "MTczMDYzNTIwMDAwMA", // "1730635200000"
			wantValid: false,
		},
		{
			name:      "non-numeric id",
			encoded:   "MTczMDYzNTIwMDAwMHxhYmM", // "1730635200000|abc"
			wantValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DecodeCursor(tt.encoded)
			if ok != tt.wantValid {
				t.Fatalf("DecodeCursor() valid = %v, want %v", ok, tt.wantValid)
			}
			if !tt.wantValid {
				return
			}
			if got.Time.UnixMilli() != tt.wantMs {
				t.Errorf("DecodeCursor() ms = %v, want %v", got.Time.UnixMilli(), tt.wantMs)
			}
			if got.ID != tt.wantID {
				t.Errorf("DecodeCursor() id = %v, want %v", got.ID, tt.wantID)
			}
		})
	}
}

func TestCursorRoundTrip(t *testing.T) {
	orig := Marker{Time: time.Date(2024, 6, 1, 12, 30, 45, 0, time.UTC), ID: 9001}
	got, ok := DecodeCursor(EncodeCursor(orig))
	if !ok {
		t.Fatal("DecodeCursor() failed on round trip")
	}
	if !got.Equal(orig) {
		t.Errorf("round trip = %v, want %v", got, orig)
	}
}

func TestMarkerAfter(t *testing.T) {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		a, b Marker
		want bool
	}{
		{"later time", Marker{Time: base.Add(time.Second), ID: 1}, Marker{Time: base, ID: 99}, true},
		{"earlier time", Marker{Time: base, ID: 99}, Marker{Time: base.Add(time.Second), ID: 1}, false},
		{"same time larger id", Marker{Time: base, ID: 5}, Marker{Time: base, ID: 4}, true},
		{"same time smaller id", Marker{Time: base, ID: 4}, Marker{Time: base, ID: 5}, false},
		{"identical", Marker{Time: base, ID: 4}, Marker{Time: base, ID: 4}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.After(tt.b); got != tt.want {
				t.Errorf("After() = %v, want %v", got, tt.want)
			}
		})
	}
}
