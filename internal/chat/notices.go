package chat

import (
	"fmt"
	"math"
	"time"
)

// Lines the server writes to clients.
const (
	TokenPrompt   = "Token: "
	WelcomeNotice = "Welcome to the club!\n"
	InvalidToken  = "Invalid token!\n"
	BannedNotice  = "You are banned\n"
)

// bannedFor renders the notice sent to a banned peer that reconnects.
// Partial seconds round up so the peer is never told "0 seconds".
func bannedFor(remaining time.Duration) string {
	secs := int64(math.Ceil(remaining.Seconds()))
	return fmt.Sprintf("You are banned: %d seconds left\n", secs)
}
