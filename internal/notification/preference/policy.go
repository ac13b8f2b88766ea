// Package preference stores per-user channel toggles and resolves the
// channels a notification goes out on.
package preference

import "notification-dispatcher/internal/models"

// defaultPolicy applies to a (user, event type) with no stored rows.
var defaultPolicy = map[models.EventType][]models.Channel{
	models.EventAssignmentPublished: {models.ChannelEmail, models.ChannelPush, models.ChannelInApp},
	models.EventDeadlineApproaching: {models.ChannelEmail, models.ChannelPush, models.ChannelInApp},
	models.EventNewAnnouncement:     {models.ChannelEmail, models.ChannelPush, models.ChannelInApp},
	models.EventGradePosted:         {models.ChannelEmail, models.ChannelPush, models.ChannelInApp},
	models.EventNewMessage:          {models.ChannelPush, models.ChannelInApp},
	models.EventGroupMessage:        {models.ChannelPush, models.ChannelInApp},
	models.EventNewCourseContent:    {models.ChannelInApp},
}

var fallbackChannels = []models.Channel{models.ChannelInApp}

// DefaultChannels returns the default channel set for eventType in canonical
// order. Unknown event types get in-app only. The slice is a fresh copy.
func DefaultChannels(eventType models.EventType) []models.Channel {
	chans, ok := defaultPolicy[eventType]
	if !ok {
		chans = fallbackChannels
	}
	out := make([]models.Channel, len(chans))
	copy(out, chans)
	return out
}

// DefaultEnabled reports whether channel is on by default for eventType.
func DefaultEnabled(eventType models.EventType, channel models.Channel) bool {
	for _, c := range DefaultChannels(eventType) {
		if c == channel {
			return true
		}
	}
	return false
}

// DefaultMatrix returns one preference per (event type, channel) pair for
// userID, enabled according to the default policy.
func DefaultMatrix(userID string) []models.Preference {
	out := make([]models.Preference, 0, len(models.AllEventTypes)*len(models.AllChannels))
	for _, et := range models.AllEventTypes {
		for _, ch := range models.AllChannels {
			out = append(out, models.Preference{
				UserID:    userID,
				EventType: et,
				Channel:   ch,
				Enabled:   DefaultEnabled(et, ch),
			})
		}
	}
	return out
}
