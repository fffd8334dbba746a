package notifications

import (
	"fmt"
	"strings"
)

// RenderedMessage is the email produced from a notification request.
type RenderedMessage struct {
	Subject string
	Body    string
}

// Render builds the subject and plain-text body for a message. Link-bearing
// types fail when the link is missing; a templated email without its call to
// action is worse than a recorded failure.
func Render(msg Message) (RenderedMessage, error) {
	switch msg.Type {
	case TypeAdminInvitation:
		link := stringField(msg.Data, "link")
		if link == "" {
			return RenderedMessage{}, fmt.Errorf("notifications: %s requires a link", msg.Type)
		}
		return RenderedMessage{
			Subject: "You're invited to administer Datapult",
			Body:    adminInvitationBody(link, stringField(msg.Data, "expires_at")),
		}, nil

	case TypeUserInvitation:
		link := stringField(msg.Data, "link")
		if link == "" {
			return RenderedMessage{}, fmt.Errorf("notifications: %s requires a link", msg.Type)
		}
		return RenderedMessage{
			Subject: "You're invited to Datapult",
			Body:    userInvitationBody(link, stringField(msg.Data, "expires_at")),
		}, nil

	case TypePasswordReset:
		link := stringField(msg.Data, "link")
		if link == "" {
			return RenderedMessage{}, fmt.Errorf("notifications: %s requires a link", msg.Type)
		}
		return RenderedMessage{
			Subject: "Reset your Datapult password",
			Body:    passwordResetBody(stringField(msg.Data, "first_name"), link, stringField(msg.Data, "expires_at")),
		}, nil

	case TypeProcessComplete:
		return RenderedMessage{
			Subject: "Your Datapult process has finished",
			Body:    processCompleteBody(stringField(msg.Data, "name"), stringField(msg.Data, "link")),
		}, nil
	}

	return RenderedMessage{}, fmt.Errorf("notifications: no template for type %q", msg.Type)
}

func userInvitationBody(link, expiresAt string) string {
	body := fmt.Sprintf("Hello,\n\nYou have been invited to join Datapult. Use the following link to create your account:\n%s\n", link)
	if expiresAt != "" {
		body += fmt.Sprintf("\nThe invitation expires at %s.\n", expiresAt)
	}
	return body + "\nIf you did not expect this email, you can ignore it.\n"
}

func adminInvitationBody(link, expiresAt string) string {
	body := fmt.Sprintf("Hello,\n\nYou have been invited to join Datapult as an administrator. Use the following link to create your account:\n%s\n", link)
	if expiresAt != "" {
		body += fmt.Sprintf("\nThe invitation expires at %s.\n", expiresAt)
	}
	return body + "\nIf you did not expect this email, you can ignore it.\n"
}

func passwordResetBody(firstName, link, expiresAt string) string {
	greeting := "Hello,"
	if firstName != "" {
		greeting = fmt.Sprintf("Hello %s,", firstName)
	}
	body := fmt.Sprintf("%s\n\nA password reset was requested for your Datapult account. Use the link below to choose a new password:\n%s\n", greeting, link)
	if expiresAt != "" {
		body += fmt.Sprintf("\nThe link expires at %s.\n", expiresAt)
	}
	return body + "\nIf you did not request this, you can ignore this message.\n"
}

func processCompleteBody(name, link string) string {
	body := "Hello,\n\nYour Datapult process has finished."
	if name != "" {
		body = fmt.Sprintf("Hello,\n\nYour Datapult process %q has finished.", name)
	}
	if link != "" {
		body += fmt.Sprintf("\n\nView the results here:\n%s", link)
	}
	return body + "\n"
}

func stringField(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	value, _ := data[key].(string)
	return strings.TrimSpace(value)
}
