package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RiskAssessment is the persisted audit record of one evaluated attempt.
type RiskAssessment struct {
	AttemptID        uuid.UUID       `json:"attempt_id"`
	UserID           *uuid.UUID      `json:"user_id,omitempty"`
	Email            string          `json:"email"`
	Realm            string          `json:"realm"`
	IPAddress        string          `json:"ip_address,omitempty"`
	Score            float64         `json:"score"`
	Level            string          `json:"level"`
	Aggregation      string          `json:"aggregation"`
	UsedEvaluators   []string        `json:"used_evaluators"`
	UsedContext      []string        `json:"used_context"`
	FailedEvaluators []string        `json:"failed_evaluators"`
	Outcomes         json.RawMessage `json:"outcomes"`
	Providers        json.RawMessage `json:"providers"`
	EvaluatedAt      time.Time       `json:"evaluated_at"`
	CreatedAt        time.Time       `json:"created_at"`
}
