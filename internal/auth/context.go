package auth

import "context"

type contextKey int

const subjectKey contextKey = iota

// WithSubject stores the authenticated admin subject on ctx.
func WithSubject(ctx context.Context, subject *Subject) context.Context {
	if subject == nil {
		return ctx
	}
	return context.WithValue(ctx, subjectKey, subject)
}

// SubjectFromContext returns the subject stored by Middleware.
func SubjectFromContext(ctx context.Context) (*Subject, bool) {
	subject, ok := ctx.Value(subjectKey).(*Subject)
	return subject, ok && subject != nil
}

// Username returns the subject's name, or "anonymous".
func Username(ctx context.Context) string {
	if subject, ok := SubjectFromContext(ctx); ok {
		return subject.Username
	}
	return "anonymous"
}
