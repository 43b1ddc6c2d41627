package slogx

import (
	"fmt"
	"log/slog"
)

// Error returns a slog.Attr with the key "error" and the error's message.
// A nil error is rendered as "<nil>" instead of panicking.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.String("error", err.Error())
}

// Stringer creates a slog.Attr from the string form of value.
func Stringer(key string, value fmt.Stringer) slog.Attr {
	return slog.String(key, value.String())
}

const (
	// KeyLoggerName is the key for the component that emitted a record.
	KeyLoggerName = "logger"
	// KeyConversation is the key for conversation identifiers.
	KeyConversation = "conversation_id"
	// KeySession is the key for generation session identifiers.
	KeySession = "session_id"
	// KeyMessage is the key for message identifiers.
	KeyMessage = "message_id"
	// KeyProvider is the key for provider identifiers.
	KeyProvider = "provider"
	// KeyModel is the key for model names.
	KeyModel = "model"
)

// LoggerName returns an attribute naming the logging component.
func LoggerName(name string) slog.Attr {
	return slog.String(KeyLoggerName, name)
}

// Conversation returns an attribute for a conversation id.
func Conversation(id string) slog.Attr {
	return slog.String(KeyConversation, id)
}

// Session returns an attribute for a generation session id.
func Session(id string) slog.Attr {
	return slog.String(KeySession, id)
}

// Message returns an attribute for a message id.
func Message(id string) slog.Attr {
	return slog.String(KeyMessage, id)
}

// Target groups the provider and model of a generation.
func Target(providerID, modelID string) slog.Attr {
	return slog.Group("target", slog.String(KeyProvider, providerID), slog.String(KeyModel, modelID))
}
