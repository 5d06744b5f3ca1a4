package middleware

import "context"

type subjectHolderKey struct{}

// subjectHolder lets an inner middleware report the authenticated subject
// to an outer one.
type subjectHolder struct {
	id string
}

func withSubjectHolder(ctx context.Context, h *subjectHolder) context.Context {
	return context.WithValue(ctx, subjectHolderKey{}, h)
}

func noteSubject(ctx context.Context, id string) {
	if h, ok := ctx.Value(subjectHolderKey{}).(*subjectHolder); ok {
		h.id = id
	}
}
