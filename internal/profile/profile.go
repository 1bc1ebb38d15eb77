// Package profile reads the requester's language preference. It is read-only
// and deliberately separate from the document datastore.
package profile

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/iepdocumentflow/internal/gcp"
)

// Reader returns a user's secondary language code, or "" when none is set.
type Reader interface {
	GetLanguagePreference(ctx context.Context, userID string) (string, error)
}

// FirestoreReader reads the users collection.
type FirestoreReader struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreReader reads profiles from collection (default "users").
func NewFirestoreReader(client *firestore.Client, collection string) *FirestoreReader {
	if collection == "" {
		collection = "users"
	}
	return &FirestoreReader{client: client, collection: collection}
}

type userProfile struct {
	SecondaryLanguage string `firestore:"secondaryLanguage"`
}

// GetLanguagePreference returns "" for users without a profile document.
func (r *FirestoreReader) GetLanguagePreference(ctx context.Context, userID string) (string, error) {
	snap, err := r.client.Collection(r.collection).Doc(userID).Get(ctx)
	if err != nil {
		if gcp.IsNotFound(err) {
			return "", nil
		}
		return "", gcp.ClassifyProviderError("profile", fmt.Errorf("failed to read profile for user %s: %w", userID, err))
	}
	var p userProfile
	if err := snap.DataTo(&p); err != nil {
		return "", fmt.Errorf("failed to decode profile for user %s: %w", userID, err)
	}
	return p.SecondaryLanguage, nil
}

// Static is a fixed userID → language map.
type Static map[string]string

func (s Static) GetLanguagePreference(ctx context.Context, userID string) (string, error) {
	return s[userID], nil
}

// NormalizeLanguage lower-cases a language tag and reduces it to its primary
// subtag ("es-MX" → "es", "EN_us" → "en").
func NormalizeLanguage(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if primary, _, ok := strings.Cut(strings.ReplaceAll(code, "_", "-"), "-"); ok {
		return primary
	}
	return code
}
