package relay

// Replies.
const (
	textStartNew     = "Hi! To register, send your nickname."
	textStartRename  = "Send your new nickname."
	textEnded        = "Session ended."
	textAlreadyEnded = "Session already ended."
	textRegistered   = "Registered."
	textThanks       = "Thanks for your answer :)"
	textFallback     = "I don't know how to answer that. Send a command or wait for instructions."
	textFailure      = "Something went wrong, please try again later."
	textID           = "User ID: %d\nChat ID: %d"

	textBroadcastPrompt = "Send the broadcast text."
	textBroadcastDone   = "Broadcast sent: %d delivered, %d failed."

	textAddAdminUsage  = "Send this command as a reply to the user's message."
	textAddAdminExists = "User is already an admin."
	textAddAdminDone   = "User %d is now an admin."

	textNoActiveUsers = "No active users"
	textNoAnswers     = "No answers"
	textNickNotSet    = "not set"
)

// Audit entries.
const (
	auditEnded      = "User %s %s ended the session"
	auditRegistered = "User %s registered with nickname: %s"
	auditRenamed    = "User %s changed nickname from %s to: %s"
	auditAnswered   = "User %s %s answered:\n%s"
)
