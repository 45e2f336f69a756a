// ABOUTME: SongRecommender agent matching songs to the conversation's mood
// ABOUTME: Picks deterministically from a built-in catalog, rotating via its state

package team

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// AgentSongRecommender is the recommender agent's roster name
const AgentSongRecommender = "SongRecommender"

// song is one catalog entry
type song struct {
	Title  string
	Artist string
	URL    string
}

// moodEntry maps trigger keywords to a rotation of songs
type moodEntry struct {
	Mood     string
	Keywords []string
	Songs    []song
}

// moodCatalog is matched in order; the first entry whose keyword appears
// in the recent conversation wins. The last entry is the fallback.
var moodCatalog = []moodEntry{
	{
		Mood:     "anxious",
		Keywords: []string{"anxious", "anxiety", "nervous", "worried", "stress", "overwhelm", "panic"},
		Songs: []song{
			{Title: "Weightless", Artist: "Marconi Union", URL: "https://www.youtube.com/watch?v=UfcAVejslrU"},
			{Title: "Breathe", Artist: "Telepopmusik", URL: "https://www.youtube.com/watch?v=vyut3GyQtn0"},
			{Title: "Clair de Lune", Artist: "Claude Debussy", URL: "https://www.youtube.com/watch?v=CvFH_6DNRCY"},
		},
	},
	{
		Mood:     "sad",
		Keywords: []string{"sad", "down", "lonely", "grief", "loss", "heartbroken", "cry", "depress"},
		Songs: []song{
			{Title: "Fix You", Artist: "Coldplay", URL: "https://www.youtube.com/watch?v=k4V3Mo61fJM"},
			{Title: "The Night We Met", Artist: "Lord Huron", URL: "https://www.youtube.com/watch?v=KtlgYxa6BMU"},
			{Title: "Everybody Hurts", Artist: "R.E.M.", URL: "https://www.youtube.com/watch?v=5rOiW_xY-kc"},
		},
	},
	{
		Mood:     "angry",
		Keywords: []string{"angry", "furious", "frustrat", "unfair", "mad", "rage"},
		Songs: []song{
			{Title: "Let It Be", Artist: "The Beatles", URL: "https://www.youtube.com/watch?v=QDYfEBY9NM4"},
			{Title: "Shake It Out", Artist: "Florence + The Machine", URL: "https://www.youtube.com/watch?v=WbN0nX61rIs"},
		},
	},
	{
		Mood:     "hopeful",
		Keywords: []string{"hope", "excited", "new job", "fresh start", "looking forward", "motivat"},
		Songs: []song{
			{Title: "Here Comes the Sun", Artist: "The Beatles", URL: "https://www.youtube.com/watch?v=KQetemT1sWc"},
			{Title: "Dog Days Are Over", Artist: "Florence + The Machine", URL: "https://www.youtube.com/watch?v=iWOyfLBYtuU"},
		},
	},
	{
		Mood:     "calm",
		Keywords: nil, // fallback
		Songs: []song{
			{Title: "Holocene", Artist: "Bon Iver", URL: "https://www.youtube.com/watch?v=TWcyIpul8OE"},
			{Title: "Vienna", Artist: "Billy Joel", URL: "https://www.youtube.com/watch?v=oz0Fpw2tVFs"},
			{Title: "Landslide", Artist: "Fleetwood Mac", URL: "https://www.youtube.com/watch?v=WM7-PYtXtJM"},
		},
	},
}

// recommenderState rotates through each mood's songs so repeat visits
// to the same mood get a different recommendation
type recommenderState struct {
	MoodCounts map[string]int `json:"mood_counts"`
}

// SongRecommender produces a song suggestion matched to the mood of the
// recent conversation
type SongRecommender struct {
	logger *slog.Logger
}

// NewSongRecommender creates the recommender agent
func NewSongRecommender() *SongRecommender {
	return &SongRecommender{
		logger: slog.Default().With("component", "team", "agent", AgentSongRecommender),
	}
}

// Name implements Agent
func (r *SongRecommender) Name() string { return AgentSongRecommender }

// Take runs one recommendation turn
func (r *SongRecommender) Take(ctx context.Context, history []Message, state json.RawMessage) (<-chan TurnEvent, error) {
	st := recommenderState{MoodCounts: make(map[string]int)}
	if len(state) > 0 {
		if err := json.Unmarshal(state, &st); err != nil {
			return nil, fmt.Errorf("decoding recommender state: %w", err)
		}
		if st.MoodCounts == nil {
			st.MoodCounts = make(map[string]int)
		}
	}

	entry := matchMood(history)
	pick := entry.Songs[st.MoodCounts[entry.Mood]%len(entry.Songs)]
	st.MoodCounts[entry.Mood]++

	r.logger.Debug("song selected", "mood", entry.Mood, "title", pick.Title)

	fragments := []string{
		fmt.Sprintf("I found a song that might suit how you're feeling: \"%s\" by %s. ", pick.Title, pick.Artist),
		fmt.Sprintf("You can listen to it here: <youtube_url>%s</youtube_url>", pick.URL),
	}

	out := make(chan TurnEvent, 4)
	go func() {
		defer close(out)

		var full strings.Builder
		for _, f := range fragments {
			select {
			case out <- TurnEvent{Fragment: f}:
				full.WriteString(f)
			case <-ctx.Done():
				out <- TurnEvent{Done: true, Err: ctx.Err()}
				return
			}
		}

		newState, err := json.Marshal(st)
		if err != nil {
			out <- TurnEvent{Done: true, Err: fmt.Errorf("encoding recommender state: %w", err)}
			return
		}

		out <- TurnEvent{
			Done:  true,
			State: newState,
			Message: &Message{
				Role:      RoleAgent,
				AgentName: AgentSongRecommender,
				Content:   full.String(),
				Metadata:  map[string]string{"mood": entry.Mood, "song_url": pick.URL},
				Timestamp: time.Now().UTC(),
			},
		}
	}()
	return out, nil
}

// matchMood scans the recent conversation (latest messages first) for a
// mood keyword and falls back to the catalog's final entry
func matchMood(history []Message) moodEntry {
	for i := len(history) - 1; i >= 0; i-- {
		text := strings.ToLower(history[i].Content)
		for _, entry := range moodCatalog {
			for _, kw := range entry.Keywords {
				if strings.Contains(text, kw) {
					return entry
				}
			}
		}
	}
	return moodCatalog[len(moodCatalog)-1]
}
