package chat

import (
	"github.com/suPer8Hu/medchat/internal/agent"
)

const (
	FallbackReply = "I couldn't process that request properly. Please try again."
	ApologyReply  = "Sorry, I encountered an error processing your request. Please try again."
)

// replyPlan is the pure outcome of a dispatcher call: what to append and
// whether a booking was offered. No effects happen here.
type replyPlan struct {
	message        Message
	bookingOffered bool
	failed         bool
}

func planReply(kind agent.Kind, reply *agent.Reply, err error) replyPlan {
	if err != nil || reply == nil {
		return replyPlan{
			message: Message{Role: RoleAssistant, Content: ApologyReply},
			failed:  true,
		}
	}

	content := reply.Response
	if content == "" {
		content = reply.Message
	}
	if content == "" {
		content = FallbackReply
	}

	agentLabel := reply.Agent
	if agentLabel == "" {
		agentLabel = string(kind)
	}

	meta := &Metadata{Agent: agentLabel}
	offered := reply.BookingOffered()
	if offered {
		meta.ShowBooking = true
		meta.Specialists = reply.Specialists
	}

	return replyPlan{
		message:        Message{Role: RoleAssistant, Content: content, Metadata: meta},
		bookingOffered: offered,
	}
}

var welcomeMessages = map[agent.Kind]string{
	agent.KindClinical:   "Welcome to Clinical Case Analysis! Describe a clinical case or patient scenario for analysis.",
	agent.KindLiterature: "Welcome to Medical Literature Review! Ask about recent medical research or specific conditions.",
	agent.KindSymptom:    "Welcome to Symptom Analysis! Describe symptoms for potential causes and recommendations.",
	agent.KindDrug:       "Welcome to Drug Interaction Analysis! Enter medications to check for potential interactions.",
}

var titles = map[agent.Kind]string{
	agent.KindClinical:   "Clinical Case Analysis",
	agent.KindLiterature: "Medical Literature Review",
	agent.KindSymptom:    "Symptom Analysis",
	agent.KindDrug:       "Drug Interaction",
}

func WelcomeMessage(kind agent.Kind) string {
	if msg, ok := welcomeMessages[kind]; ok {
		return msg
	}
	return "Welcome! How can I assist you today?"
}

func Title(kind agent.Kind) string {
	if t, ok := titles[kind]; ok {
		return t
	}
	return "AI Chat"
}
