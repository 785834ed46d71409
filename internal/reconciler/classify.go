package reconciler

import (
	"strings"

	"github.com/tgpromo/promobot/internal/models"
)

type JoinClass int

const (
	Genuine JoinClass = iota
	Suspicious
)

// Classifier is an extension point for fake-account detection. The verdict
// is advisory: the default implementation only produces log signals and
// never blocks crediting on its own.
type Classifier func(user *models.User) (JoinClass, []string)

func DefaultClassifier(user *models.User) (JoinClass, []string) {
	var warnings []string

	switch {
	case user.Username == "":
		warnings = append(warnings, "no username")
	case len(user.Username) < 5:
		warnings = append(warnings, "username too short")
	}

	if len(strings.TrimSpace(user.FirstName)) < 2 {
		warnings = append(warnings, "no proper first name")
	}

	if len(warnings) > 0 {
		return Suspicious, warnings
	}
	return Genuine, nil
}

// SetClassifier replaces the default heuristic, mainly for tests.
func (r *Reconciler) SetClassifier(c Classifier) {
	r.classify = c
}
