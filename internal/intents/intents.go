// Package intents records and delivers the side effects the engine asks
// collaborators to perform: notice documents, reminders, amendment
// validation requests and final reports.
package intents

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Zia971/opcopilotV4/internal/domain"
)

const (
	KindNoticeGenerate       = "notice.generate"
	KindNoticeReminder       = "notice.reminder_scheduled"
	KindAmendmentValidation  = "amendment.validation_requested"
	KindOperationFinalReport = "operation.final_report"
)

const (
	issuer               = "opcopilot"
	defaultTokenValidity = 5 * time.Minute
)

func Kinds() []string {
	return []string{KindNoticeGenerate, KindNoticeReminder, KindAmendmentValidation, KindOperationFinalReport}
}

// New builds a pending intent.
func New(kind string, operationID int64, payload map[string]any, at time.Time) domain.Intent {
	return domain.Intent{
		ID:          uuid.NewString(),
		Kind:        kind,
		OperationID: operationID,
		Payload:     payload,
		CreatedAt:   at.UTC().Format(time.RFC3339),
	}
}

// Claims is the bearer token attached to each delivery.
type Claims struct {
	Kind        string `json:"kind"`
	OperationID int64  `json:"operation_id"`
	jwt.RegisteredClaims
}

// Sign issues an HS256 token for intent it.
func Sign(it domain.Intent, key string, now time.Time) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("signing key is empty")
	}
	claims := Claims{
		Kind:        it.Kind,
		OperationID: it.OperationID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   it.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(defaultTokenValidity)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
}

// Verify parses a delivery token; receivers use it to authenticate calls.
func Verify(token, key string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return []byte(key), nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
