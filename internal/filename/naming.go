package filename

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/curtbushko/zoom-to-vault/internal/email"
	"github.com/curtbushko/zoom-to-vault/internal/zoom"
)

// Policy selects how destination names are laid out
type Policy string

const (
	// PolicyUserMeeting lays files out as {root}/{emailPrefix}/{meetingId}/{FILETYPE}_{fileId}.{ext}
	PolicyUserMeeting Policy = "user-meeting"
	// PolicyUserTopic lays files out as {root}/{emailPrefix}/{topic-slug}/{FILETYPE}_{fileId}.{ext}
	PolicyUserTopic Policy = "user-topic"
	// PolicyFlat lays files out as {root}/{YYYYMMDD-HHMM}_{meetingId}_{FILETYPE}_{fileId}.{ext}
	PolicyFlat Policy = "flat"
)

// ParsePolicy validates a configured policy name; empty selects PolicyUserMeeting
func ParsePolicy(name string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(name))); p {
	case "":
		return PolicyUserMeeting, nil
	case PolicyUserMeeting, PolicyUserTopic, PolicyFlat:
		return p, nil
	default:
		return "", fmt.Errorf("unknown naming policy %q", name)
	}
}

// Meeting is the meeting context a name may depend on
type Meeting struct {
	Topic     string
	HostEmail string
	StartTime time.Time
}

// MeetingFromEntry builds naming context from a recording listing entry
func MeetingFromEntry(entry zoom.RecordingIndexEntry) Meeting {
	return Meeting{Topic: entry.Topic, HostEmail: entry.HostEmail, StartTime: entry.StartTime}
}

// Namer produces destination names. The same inputs always yield the same name.
type Namer struct {
	policy    Policy
	root      string
	sanitizer *Sanitizer
}

// NewNamer creates a Namer writing under root
func NewNamer(policy Policy, root string) *Namer {
	if policy == "" {
		policy = PolicyUserMeeting
	}
	return &Namer{
		policy:    policy,
		root:      strings.Trim(root, "/"),
		sanitizer: NewSanitizer(SanitizerOptions{}),
	}
}

// Policy returns the active policy
func (n *Namer) Policy() Policy {
	return n.policy
}

// Name returns the destination name for one file of a meeting
func (n *Namer) Name(meetingID string, meeting Meeting, file zoom.RecordingFile) string {
	fileType := strings.ToUpper(n.sanitizer.SanitizeSegment(file.FileType))
	base := fmt.Sprintf("%s_%s.%s", fileType, n.sanitizer.SanitizeSegment(file.ID), Extension(file.FileType, file.FileExtension))
	meetingSegment := n.sanitizer.SanitizeSegment(meetingID)

	var parts []string
	switch n.policy {
	case PolicyFlat:
		started := meeting.StartTime
		if started.IsZero() {
			started = file.RecordingStart
		}
		parts = []string{fmt.Sprintf("%s_%s_%s", started.UTC().Format("20060102-1504"), meetingSegment, base)}
	case PolicyUserTopic:
		parts = []string{n.userSegment(meeting.HostEmail), n.sanitizer.SanitizeTopic(meeting.Topic), base}
	default:
		parts = []string{n.userSegment(meeting.HostEmail), meetingSegment, base}
	}

	if n.root != "" {
		parts = append([]string{n.root}, parts...)
	}
	return path.Join(parts...)
}

// For binds meeting context into the name function the orchestrator expects
func (n *Namer) For(meeting Meeting) func(meetingID string, file zoom.RecordingFile) string {
	return func(meetingID string, file zoom.RecordingFile) string {
		return n.Name(meetingID, meeting, file)
	}
}

func (n *Namer) userSegment(hostEmail string) string {
	local := email.LocalPart(hostEmail)
	if local == "" {
		return zoom.UnknownHostEmail
	}
	return n.sanitizer.SanitizeSegment(local)
}
