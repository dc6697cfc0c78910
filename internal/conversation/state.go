// Package conversation turns inbound chat text into pipeline runs. Each user
// walks a small slot-filling state machine; invalid input never moves it.
package conversation

import (
	"time"

	"github.com/polzovatel/creative-insights-bot/internal/insight"
)

// Awaiting names the slot the next message is expected to fill.
type Awaiting string

const (
	AwaitNone      Awaiting = "NONE"
	AwaitPeriod    Awaiting = "PERIOD"
	AwaitKeyword   Awaiting = "KEYWORD"
	AwaitRegion    Awaiting = "REGION"
	AwaitSelection Awaiting = "SELECTION"
)

// Flow is the command that started the current collection.
type Flow string

const (
	FlowKeywords Flow = "keywords"
	FlowTrending Flow = "trending"
	FlowMusic    Flow = "music"
)

const (
	inputPeriod  = "period"
	inputKeyword = "keyword"
	inputRegion  = "region"
)

type State struct {
	UserID        string                  `json:"user_id"`
	Awaiting      Awaiting                `json:"awaiting"`
	Flow          Flow                    `json:"flow,omitempty"`
	Inputs        map[string]string       `json:"inputs,omitempty"`
	LastResultSet []string                `json:"last_result_set,omitempty"`
	LastRecords   []insight.InsightRecord `json:"last_records,omitempty"`
	UpdatedAt     time.Time               `json:"updated_at"`
}

// NewState returns the idle state for a user.
func NewState(userID string) State {
	return State{UserID: userID, Awaiting: AwaitNone, Inputs: map[string]string{}}
}

// begin starts a fresh collection for flow.
func (s *State) begin(flow Flow, next Awaiting) {
	*s = NewState(s.UserID)
	s.Flow = flow
	s.Awaiting = next
}

func (s *State) reset() {
	*s = NewState(s.UserID)
}

func (s State) clone() State {
	out := s
	out.Inputs = make(map[string]string, len(s.Inputs))
	for k, v := range s.Inputs {
		out.Inputs[k] = v
	}
	out.LastResultSet = append([]string(nil), s.LastResultSet...)
	out.LastRecords = append([]insight.InsightRecord(nil), s.LastRecords...)
	return out
}
