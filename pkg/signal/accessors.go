package signal

import "time"

// GetGlobalSentiment returns the most recently published, unexpired
// global sentiment payload, and false if none exists.
func (b *Bus) GetGlobalSentiment() (GlobalSentimentPayload, bool) {
	recent := b.Recent(KindGlobalSentiment, 0)
	if len(recent) == 0 {
		return GlobalSentimentPayload{}, false
	}
	p, ok := recent[len(recent)-1].Payload.(GlobalSentimentPayload)
	return p, ok
}

// GetHotTokens returns up to n of the most recently published hot-token
// payloads, most recent first.
func (b *Bus) GetHotTokens(n int) []HotTokenPayload {
	recent := b.Recent(KindHotToken, 0)
	out := make([]HotTokenPayload, 0, n)
	for i := len(recent) - 1; i >= 0 && len(out) < n; i-- {
		if p, ok := recent[i].Payload.(HotTokenPayload); ok {
			out = append(out, p)
		}
	}
	return out
}

// GetWhaleMoves returns whale-move payloads published within window.
func (b *Bus) GetWhaleMoves(window time.Duration) []WhaleMovePayload {
	recent := b.Recent(KindWhaleMove, window)
	out := make([]WhaleMovePayload, 0, len(recent))
	for _, s := range recent {
		if p, ok := s.Payload.(WhaleMovePayload); ok {
			out = append(out, p)
		}
	}
	return out
}

// GetNewsEvents returns news-event payloads published within window.
func (b *Bus) GetNewsEvents(window time.Duration) []NewsEventPayload {
	recent := b.Recent(KindNewsEvent, window)
	out := make([]NewsEventPayload, 0, len(recent))
	for _, s := range recent {
		if p, ok := s.Payload.(NewsEventPayload); ok {
			out = append(out, p)
		}
	}
	return out
}
