// ABOUTME: Deterministic next-speaker selection over a fixed agent roster
// ABOUTME: User input starts the round; the round ends after the final roster agent

package team

// Selector chooses the next agent to speak given the conversation so
// far. Returning ok=false is the handover point: control goes back to
// the user.
type Selector interface {
	Next(history []Message) (agent Agent, ok bool)
}

// RosterSelector walks a fixed ordered roster once per round: a user
// message selects the first agent, each agent is followed by the next
// one in roster order, and the last agent's turn hands control back to
// the user.
type RosterSelector struct {
	roster []Agent
}

// NewRosterSelector creates a selector over the given roster order
func NewRosterSelector(roster ...Agent) *RosterSelector {
	return &RosterSelector{roster: roster}
}

// Next implements Selector
func (s *RosterSelector) Next(history []Message) (Agent, bool) {
	if len(s.roster) == 0 {
		return nil, false
	}

	last := lastMessage(history)
	if last == nil {
		return nil, false
	}

	if last.Role != RoleAgent {
		return s.roster[0], true
	}

	for i, agent := range s.roster {
		if agent.Name() == last.AgentName {
			if i+1 < len(s.roster) {
				return s.roster[i+1], true
			}
			return nil, false
		}
	}

	// Unknown last speaker: restart the round
	return s.roster[0], true
}

func lastMessage(history []Message) *Message {
	if len(history) == 0 {
		return nil
	}
	return &history[len(history)-1]
}
