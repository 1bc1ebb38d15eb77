package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/iepdocumentflow/internal/models"
	"github.com/Lllllllleong/iepdocumentflow/internal/profile"
)

// LanguageEvaluator decides whether a document needs a translation branch.
type LanguageEvaluator struct {
	profiles profile.Reader
}

// NewLanguageEvaluator creates an evaluator backed by the user's profile.
func NewLanguageEvaluator(profiles profile.Reader) *LanguageEvaluator {
	return &LanguageEvaluator{profiles: profiles}
}

// Evaluate reads the user's secondary language once and turns it into a decision.
func (e *LanguageEvaluator) Evaluate(ctx context.Context, userID string) (models.LanguageDecision, error) {
	pref, err := e.profiles.GetLanguagePreference(ctx, userID)
	if err != nil {
		return models.LanguageDecision{}, fmt.Errorf("failed to read language preference: %w", err)
	}
	decision := Decide(pref)
	slog.Info("Language branch evaluated.", "userId", userID, "preference", pref, "translate", decision.Translate, "targetLanguage", decision.TargetLanguage)
	return decision, nil
}

// Decide maps a stored preference to a decision. An unset preference or
// English means no translation.
func Decide(pref string) models.LanguageDecision {
	lang := profile.NormalizeLanguage(pref)
	if lang == "" || lang == models.EnglishLanguage {
		return models.LanguageDecision{}
	}
	return models.LanguageDecision{Translate: true, TargetLanguage: lang}
}
