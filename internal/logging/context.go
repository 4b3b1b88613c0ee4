package logging

import "context"

type contextKey string

const fieldsKey contextKey = "log_fields"

// Fields are added to every log record emitted with the carrying context.
type Fields struct {
	TopicID   string
	RoundID   string
	Component string // e.g. "agora.summarize"
}

// WithFields enriches ctx with log fields. Non-empty values override earlier ones.
func WithFields(ctx context.Context, fields Fields) context.Context {
	merged := GetFields(ctx)
	if fields.TopicID != "" {
		merged.TopicID = fields.TopicID
	}
	if fields.RoundID != "" {
		merged.RoundID = fields.RoundID
	}
	if fields.Component != "" {
		merged.Component = fields.Component
	}
	return context.WithValue(ctx, fieldsKey, merged)
}

// GetFields returns the log fields carried by ctx, if any.
func GetFields(ctx context.Context) Fields {
	if fields, ok := ctx.Value(fieldsKey).(Fields); ok {
		return fields
	}
	return Fields{}
}
