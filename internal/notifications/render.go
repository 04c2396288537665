package notifications

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/console/internal/rowstore"
)

// FallbackText is shown when the actor or the target post no longer exists.
const FallbackText = "Notification"

// Render returns the human-readable line for a notification.
func Render(notification rowstore.Notification) string {
	if notification.Actor == nil || notification.Post == nil {
		return FallbackText
	}
	actorName := notification.Actor.FullName
	postTitle := notification.Post.Title
	switch notification.Kind {
	case rowstore.NotificationKindComment:
		return fmt.Sprintf("%s commented on your post \"%s\"", actorName, postTitle)
	case rowstore.NotificationKindReaction:
		return fmt.Sprintf("%s reacted to your post \"%s\"", actorName, postTitle)
	default:
		return FallbackText
	}
}
