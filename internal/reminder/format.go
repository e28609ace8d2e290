package reminder

import (
	"fmt"
	"time"
)

// HelpText is shown for help and start.
const HelpText = "Reminds you in X minutes with a message.\n" +
	"!remindme <minutes> <message>\n" +
	"!remindme <n> <seconds|minutes|hours|days|weeks|months> <message>\n" +
	"!cancel \"<message>\" - cancels a previous reminder."

func CreatedReply(name string, c Created) string {
	return fmt.Sprintf("%s has set a reminder to %s in %d minutes.", name, c.Message, c.Minutes)
}

func NoticeText(message string) string { return "Reminder: " + message }

func CanceledReply(name, message string) string {
	return fmt.Sprintf("Reminder for %s to \"%s\" canceled.", name, message)
}

func NotFoundReply(name string) string {
	return fmt.Sprintf("%s, that reminder doesn't exist!", name)
}

func TooFarReply(name string, limit time.Duration) string {
	return fmt.Sprintf("%s, reminders can be set at most %d minutes ahead.", name, int64(limit/time.Minute))
}
