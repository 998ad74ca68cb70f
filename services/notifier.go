package services

import (
	"html/template"
	"log"
	"strings"

	"lab-management-api/config"
	"lab-management-api/realtime"
)

// EventPusher is the slice of the realtime hub the workflow engine needs.
// *realtime.Hub satisfies it; tests substitute a recording fake.
type EventPusher interface {
	SendToUser(userID int, ev realtime.Event)
	SendToLab(supervisorID int, ev realtime.Event)
}

// Event type tags pushed over the realtime channel.
const (
	EventLogSubmitted = "research_log_submitted"
	EventLogReturned  = "research_log_returned"
	EventLogAccepted  = "research_log_accepted"
	EventLogDeclined  = "research_log_declined"
)

var reviewEmailTmpl = template.Must(template.New("reviewEmail").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #222;">
  <p>Dear {{.Recipient}},</p>
  <p>{{.Message}}</p>
  <p style="color: #777; font-size: 12px;">This is an automated message from the lab management system. Please do not reply.</p>
</body>
</html>`))

// buildReviewEmailHTML renders the outcome mail body. Template execution
// escapes user-supplied comments.
func buildReviewEmailHTML(recipientName, message string) string {
	var sb strings.Builder
	err := reviewEmailTmpl.Execute(&sb, struct {
		Recipient string
		Message   string
	}{Recipient: recipientName, Message: message})
	if err != nil {
		log.Printf("failed to render review email: %v", err)
		return message
	}
	return sb.String()
}

// sendMailSafe delivers an email without letting a transport failure reach
// the request path. The transition has already committed by the time this
// runs.
func sendMailSafe(to []string, subject, html string) {
	if err := config.SendMail(to, subject, html); err != nil {
		log.Printf("notification email send failed (subject=%q to=%v): %v", subject, to, err)
	}
}
