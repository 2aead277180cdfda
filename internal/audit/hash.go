package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"decisiond/internal/model"
)

// HashAlgorithm identifies the hashing algorithm used.
const HashAlgorithm = "sha256"

// GenesisHash is the prev_hash of the first event in each case's chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// ComputeEventHash computes the hash of an event over its canonical JSON
// representation, excluding the EventHash field itself.
func ComputeEventHash(event *model.AuditEvent) string {
	hashInput := struct {
		EventID             string                  `json:"event_id"`
		CaseID              string                  `json:"case_id"`
		Timestamp           string                  `json:"timestamp"`
		EventType           string                  `json:"event_type"`
		Actor               model.Actor             `json:"actor"`
		Transition          *model.StateTransition  `json:"transition,omitempty"`
		Reasoning           *model.Reasoning        `json:"reasoning,omitempty"`
		EvidenceSnapshot    map[string]any          `json:"evidence_snapshot,omitempty"`
		AgentRecommendation *model.EnsembleDecision `json:"agent_recommendation,omitempty"`
		PolicyVersion       string                  `json:"policy_version,omitempty"`
		PolicyRuleMatched   string                  `json:"policy_rule_matched,omitempty"`
		Metadata            map[string]any          `json:"metadata,omitempty"`
		PrevHash            string                  `json:"prev_hash"`
	}{
		EventID:             event.EventID,
		CaseID:              event.CaseID,
		Timestamp:           event.Timestamp.UTC().Format("2006-01-02T15:04:05.999999999Z07:00"),
		EventType:           event.EventType,
		Actor:               event.Actor,
		Transition:          event.Transition,
		Reasoning:           event.Reasoning,
		EvidenceSnapshot:    event.EvidenceSnapshot,
		AgentRecommendation: event.AgentRecommendation,
		PolicyVersion:       event.PolicyVersion,
		PolicyRuleMatched:   event.PolicyRuleMatched,
		Metadata:            event.Metadata,
		PrevHash:            event.PrevHash,
	}

	data, err := json.Marshal(hashInput)
	if err != nil {
		data = []byte(event.EventID)
	}

	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// VerifyEventHash verifies that an event's stored hash is correct.
func VerifyEventHash(event *model.AuditEvent) bool {
	if event.EventHash == "" {
		return false
	}
	return ComputeEventHash(event) == event.EventHash
}

// VerifyChain verifies the integrity of one case's chain of events.
// Events must be in append order. Returns the index of the first broken
// link, or -1 if the chain is valid.
func VerifyChain(events []model.AuditEvent) (int, error) {
	for i, event := range events {
		if !VerifyEventHash(&event) {
			return i, fmt.Errorf("event %s has invalid hash", event.EventID)
		}
		if i == 0 {
			if event.PrevHash != GenesisHash {
				return i, fmt.Errorf("first event %s has prev_hash %s, expected genesis",
					event.EventID, event.PrevHash)
			}
			continue
		}
		if event.PrevHash != events[i-1].EventHash {
			return i, fmt.Errorf("event %s has broken chain link: prev_hash=%s, expected=%s",
				event.EventID, shortHash(event.PrevHash), shortHash(events[i-1].EventHash))
		}
	}
	return -1, nil
}

func shortHash(h string) string {
	if len(h) > 16 {
		return h[:16] + "..."
	}
	return h
}

// ChainStatus is the result of a full chain verification.
type ChainStatus struct {
	CaseID       string `json:"case_id"`
	Valid        bool   `json:"valid"`
	TotalEvents  int    `json:"total_events"`
	BrokenAt     int    `json:"broken_at"`
	Error        string `json:"error,omitempty"`
	FirstEventID string `json:"first_event_id,omitempty"`
	LastEventID  string `json:"last_event_id,omitempty"`
	LastHash     string `json:"last_hash,omitempty"`
}

// VerifyChainStatus performs a full chain verification and returns status.
func VerifyChainStatus(caseID string, events []model.AuditEvent) ChainStatus {
	status := ChainStatus{
		CaseID:      caseID,
		TotalEvents: len(events),
		BrokenAt:    -1,
	}
	if len(events) == 0 {
		status.Valid = true
		return status
	}
	status.FirstEventID = events[0].EventID
	status.LastEventID = events[len(events)-1].EventID
	status.LastHash = events[len(events)-1].EventHash

	brokenAt, err := VerifyChain(events)
	if err != nil {
		status.BrokenAt = brokenAt
		status.Error = err.Error()
		return status
	}
	status.Valid = true
	return status
}
