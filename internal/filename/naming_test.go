package filename

import (
	"testing"
	"time"

	"github.com/curtbushko/zoom-to-vault/internal/zoom"
)

func TestNamerPolicies(t *testing.T) {
	meeting := Meeting{
		Topic:     "Q4 Planning: Budget & Goals",
		HostEmail: "John.Doe@Example.com",
		StartTime: time.Date(2024, 1, 15, 14, 5, 0, 0, time.FixedZone("EST", -5*3600)),
	}
	file := zoom.RecordingFile{ID: "f1", FileType: "MP4"}

	tests := []struct {
		name     string
		policy   Policy
		root     string
		meeting  Meeting
		expected string
	}{
		{
			name:     "user meeting",
			policy:   PolicyUserMeeting,
			root:     "zoom-recordings",
			meeting:  meeting,
			expected: "zoom-recordings/john.doe/778899/MP4_f1.mp4",
		},
		{
			name:     "user topic",
			policy:   PolicyUserTopic,
			root:     "zoom-recordings/",
			meeting:  meeting,
			expected: "zoom-recordings/john.doe/q4-planning-budget-goals/MP4_f1.mp4",
		},
		{
			name:     "flat uses utc start",
			policy:   PolicyFlat,
			root:     "archive",
			meeting:  meeting,
			expected: "archive/20240115-1905_778899_MP4_f1.mp4",
		},
		{
			name:     "no root",
			policy:   PolicyUserMeeting,
			root:     "",
			meeting:  meeting,
			expected: "john.doe/778899/MP4_f1.mp4",
		},
		{
			name:     "unknown host",
			policy:   PolicyUserMeeting,
			root:     "r",
			meeting:  Meeting{HostEmail: zoom.UnknownHostEmail},
			expected: "r/unknown/778899/MP4_f1.mp4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			namer := NewNamer(tt.policy, tt.root)
			if got := namer.Name("778899", tt.meeting, file); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestNamerIsDeterministic(t *testing.T) {
	namer := NewNamer(PolicyUserMeeting, "root")
	nameFn := namer.For(Meeting{HostEmail: "a@example.com"})
	file := zoom.RecordingFile{ID: "f2", FileType: "M4A"}

	first := nameFn("778899", file)
	second := nameFn("778899", file)
	if first != second {
		t.Errorf("Expected identical names, got %q and %q", first, second)
	}
	if first != "root/a/778899/M4A_f2.m4a" {
		t.Errorf("Unexpected name %q", first)
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		input    string
		expected Policy
		wantErr  bool
	}{
		{"", PolicyUserMeeting, false},
		{"user-meeting", PolicyUserMeeting, false},
		{"User-Topic", PolicyUserTopic, false},
		{"flat", PolicyFlat, false},
		{"by-date", "", true},
	}

	for _, tt := range tests {
		got, err := ParsePolicy(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePolicy(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.expected {
			t.Errorf("ParsePolicy(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
