package control

import (
	"context"

	"callcenter/internal/calls"
)

// ConsentChecker decides whether a call may be recorded.
type ConsentChecker interface {
	RecordingConsent(ctx context.Context, c calls.Call) (bool, error)
}

// ConsentFunc adapts a function to ConsentChecker.
type ConsentFunc func(ctx context.Context, c calls.Call) (bool, error)

func (f ConsentFunc) RecordingConsent(ctx context.Context, c calls.Call) (bool, error) { return f(ctx, c) }

// MetadataConsent grants recording when the call metadata carries
// recording_consent=granted, as set through Service.SetConsent.
type MetadataConsent struct{}

func (MetadataConsent) RecordingConsent(_ context.Context, c calls.Call) (bool, error) {
	return c.Metadata[calls.MetaConsent] == ConsentGranted, nil
}

const (
	ConsentGranted = "granted"
	ConsentDenied  = "denied"
)
