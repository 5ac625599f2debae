package scrum

import "fmt"

// Texts of the notices sent to a conversation.
const (
	NoticeAlreadyRunning     = "A scrum is already running. Use the Update button on your prompt to post your status."
	NoticeNothingToComplete  = "There is no running scrum to end. Type start scrum to begin one."
	NoticeScrumNotRunning    = "This scrum has already ended. Start a new one to post an update."
	NoticeGenericError       = "Sorry, something went wrong. Please try again."
	NoticeMalformedUpdate    = "Sorry, your update could not be read. Open the form from your prompt and submit it again."
	NoticeWrongTenant        = "This bot is not available for your organization."
	NoticeScopeError         = "Sorry, scrums can only be run in group chats and channels."
	NoticeNoActionTitle      = "No active scrum"
	NoticeValidationTitle    = "Update your status"
	NoticeTooManyMembersText = "This conversation has more than %d members. Scrums are limited to %d participants."
)

// NoticeNotPartOfStart is sent when someone who joined after the scrum
// started tries to start another one.
func NoticeNotPartOfStart(name string) string {
	return fmt.Sprintf("%s, a scrum is already running and you are not part of it. Wait for it to end before starting a new one.", name)
}

// NoticeNotPartOfUpdate is returned when a non-member submits an update.
func NoticeNotPartOfUpdate(name string) string {
	return fmt.Sprintf("%s, you are not part of this scrum, so your update was not posted.", name)
}

// NoticeNotPartOfComplete is sent when a non-member tries to end the scrum.
func NoticeNotPartOfComplete(name string) string {
	return fmt.Sprintf("%s, you are not part of this scrum, so you cannot end it.", name)
}

// NoticeTooManyMembers is sent when the conversation exceeds the member cap.
func NoticeTooManyMembers(limit int) string {
	return fmt.Sprintf(NoticeTooManyMembersText, limit, limit)
}

// Trail lines.
func trailStarted(name, at string) string   { return fmt.Sprintf("%s started the scrum at %s", name, at) }
func trailUpdated(name, at string) string   { return fmt.Sprintf("%s updated at %s", name, at) }
func trailCompleted(name, at string) string { return fmt.Sprintf("%s completed the scrum at %s", name, at) }
