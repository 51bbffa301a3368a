package analytics

type Summary struct {
	TotalSessions   int               `json:"totalSessions"`
	MessagesByAgent map[AgentType]int `json:"messagesByAgent"`
	Bookings        int               `json:"bookings"`
	ImageAnalyses   int               `json:"imageAnalyses"`
	Anomalies       int               `json:"anomalies,omitempty"`
}

// EmptySummary is what an empty or missing ledger aggregates to.
func EmptySummary() Summary {
	return Summary{MessagesByAgent: map[AgentType]int{}}
}

// ZeroSummary is the client-side fallback, with every agent type listed.
func ZeroSummary() Summary {
	s := EmptySummary()
	for _, a := range AgentTypes {
		s.MessagesByAgent[a] = 0
	}
	return s
}

func (s *Summary) add(ev Event) {
	switch ev.EventType {
	case EventSession:
		s.TotalSessions++
	case EventBooking:
		s.Bookings++
	case EventImageAnalysis:
		s.ImageAnalyses++
	case EventMessage:
		s.MessagesByAgent[ev.AgentType]++
	}
}
